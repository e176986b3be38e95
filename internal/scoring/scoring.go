// Package scoring computes decaying problem point values.
package scoring

import "math"

// Defaults for the decay curve.
const (
	DefaultAlpha    = 10.0
	DefaultMinimum  = 1.0
	roundingDigits  = 2
	roundingDivisor = 100.0
)

// Scorer computes the current point value of a problem given how many
// distinct users have already solved it. The curve halves the base at
// alpha solvers and floors at the minimum, so early solvers are rewarded
// without late solvers earning nothing.
type Scorer struct {
	Alpha   float64
	Minimum float64
}

// New creates a Scorer, substituting defaults for non-positive values.
func New(alpha, minimum float64) Scorer {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	if minimum <= 0 {
		minimum = DefaultMinimum
	}
	return Scorer{Alpha: alpha, Minimum: minimum}
}

// Points returns the value awarded for an acceptance when solvers
// distinct users solved the problem before it:
//
//	P = max(Pmin, P0 / (1 + k/alpha))
//
// rounded to two decimal places. The first solver (k = 0) earns the full
// base.
func (s Scorer) Points(basePoints float64, solvers int64) float64 {
	if basePoints <= 0 {
		return 0
	}
	k := float64(solvers)
	if k < 0 {
		k = 0
	}
	p := basePoints / (1 + k/s.Alpha)
	if p < s.Minimum {
		p = s.Minimum
	}
	return round2(p)
}

func round2(v float64) float64 {
	return math.Round(v*roundingDivisor) / roundingDivisor
}
