package scoring_test

import (
	"testing"

	"chainjudge/internal/scoring"
)

func TestPointsDecay(t *testing.T) {
	t.Parallel()
	s := scoring.New(10, 1)

	tests := []struct {
		name    string
		base    float64
		solvers int64
		want    float64
	}{
		{name: "first solver gets full base", base: 1000, solvers: 0, want: 1000},
		{name: "half value at alpha solvers", base: 1000, solvers: 10, want: 500},
		{name: "tenth value at nine alpha", base: 1000, solvers: 90, want: 100},
		{name: "one solver", base: 1000, solvers: 1, want: 909.09},
		{name: "floors at minimum", base: 10, solvers: 1000000, want: 1},
		{name: "zero base scores zero", base: 0, solvers: 5, want: 0},
		{name: "negative base scores zero", base: -100, solvers: 0, want: 0},
		{name: "negative solvers treated as zero", base: 500, solvers: -3, want: 500},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := s.Points(tt.base, tt.solvers); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPointsRounding(t *testing.T) {
	t.Parallel()
	s := scoring.New(10, 1)

	// 100 / (1 + 3/10) = 76.923... rounds to 76.92
	if got := s.Points(100, 3); got != 76.92 {
		t.Fatalf("expected 76.92, got %v", got)
	}
	// 100 / (1 + 6/10) = 62.5 stays exact
	if got := s.Points(100, 6); got != 62.5 {
		t.Fatalf("expected 62.5, got %v", got)
	}
}

func TestNewSubstitutesDefaults(t *testing.T) {
	t.Parallel()
	s := scoring.New(0, -1)
	if s.Alpha != scoring.DefaultAlpha {
		t.Fatalf("expected alpha %v, got %v", scoring.DefaultAlpha, s.Alpha)
	}
	if s.Minimum != scoring.DefaultMinimum {
		t.Fatalf("expected minimum %v, got %v", scoring.DefaultMinimum, s.Minimum)
	}
}
