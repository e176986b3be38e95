// Package comparator implements output comparison for judged runs.
package comparator

import (
	"math"
	"strconv"
	"strings"
)

// DefaultEpsilon is the tolerance used by numeric comparison when the
// problem does not override it.
const DefaultEpsilon = 1e-6

// Equal compares program output against the expected answer under the
// standard normalization: trailing spaces, tabs, and carriage returns are
// stripped from each line, and trailing blank lines are dropped. Interior
// whitespace and blank lines are significant.
func Equal(expected, actual string) bool {
	e := Normalize(expected)
	a := Normalize(actual)
	if len(e) != len(a) {
		return false
	}
	for i := range e {
		if e[i] != a[i] {
			return false
		}
	}
	return true
}

// NumericEqual tokenizes both outputs on whitespace and compares tokens
// pairwise. Tokens that parse as floats match when within eps absolutely
// or relatively; all other tokens must match exactly.
func NumericEqual(expected, actual string, eps float64) bool {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	e := strings.Fields(expected)
	a := strings.Fields(actual)
	if len(e) != len(a) {
		return false
	}
	for i := range e {
		if !tokenEqual(e[i], a[i], eps) {
			return false
		}
	}
	return true
}

// Normalize applies the standard line normalization and returns the
// resulting lines.
func Normalize(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func tokenEqual(e, a string, eps float64) bool {
	if e == a {
		return true
	}
	ef, eerr := strconv.ParseFloat(e, 64)
	af, aerr := strconv.ParseFloat(a, 64)
	if eerr != nil || aerr != nil {
		return false
	}
	diff := math.Abs(ef - af)
	if diff <= eps {
		return true
	}
	denom := math.Max(math.Abs(ef), math.Abs(af))
	return denom > 0 && diff/denom <= eps
}
