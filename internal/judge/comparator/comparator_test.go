package comparator_test

import (
	"testing"

	"chainjudge/internal/judge/comparator"
)

func TestEqual(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{name: "identical", expected: "1 2 3\n", actual: "1 2 3\n", want: true},
		{name: "trailing spaces ignored", expected: "hello\n", actual: "hello   \n", want: true},
		{name: "trailing tabs ignored", expected: "hello\n", actual: "hello\t\n", want: true},
		{name: "carriage returns ignored", expected: "a\nb\n", actual: "a\r\nb\r\n", want: true},
		{name: "trailing blank lines ignored", expected: "42\n", actual: "42\n\n\n", want: true},
		{name: "missing final newline ok", expected: "42\n", actual: "42", want: true},
		{name: "different content", expected: "42\n", actual: "43\n", want: false},
		{name: "interior whitespace significant", expected: "1 2\n", actual: "1  2\n", want: false},
		{name: "interior blank line significant", expected: "a\nb\n", actual: "a\n\nb\n", want: false},
		{name: "leading whitespace significant", expected: "a\n", actual: " a\n", want: false},
		{name: "missing line", expected: "a\nb\n", actual: "a\n", want: false},
		{name: "both empty", expected: "", actual: "", want: true},
		{name: "empty vs blank lines", expected: "", actual: "\n\n", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := comparator.Equal(tt.expected, tt.actual); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNumericEqual(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		expected string
		actual   string
		eps      float64
		want     bool
	}{
		{name: "exact match", expected: "1.5 2.5", actual: "1.5 2.5", eps: 1e-6, want: true},
		{name: "within absolute eps", expected: "1.0", actual: "1.0000005", eps: 1e-6, want: true},
		{name: "outside eps", expected: "1.0", actual: "1.1", eps: 1e-6, want: false},
		{name: "within relative eps", expected: "1000000", actual: "1000000.5", eps: 1e-6, want: true},
		{name: "formatting differences ok", expected: "0.5", actual: "5e-1", eps: 1e-6, want: true},
		{name: "token count mismatch", expected: "1 2", actual: "1 2 3", eps: 1e-6, want: false},
		{name: "whitespace layout irrelevant", expected: "1\n2\n", actual: "1 2", eps: 1e-6, want: true},
		{name: "non numeric tokens exact", expected: "YES", actual: "YES", eps: 1e-6, want: true},
		{name: "non numeric tokens differ", expected: "YES", actual: "yes", eps: 1e-6, want: false},
		{name: "default eps on zero", expected: "1.0", actual: "1.0000005", eps: 0, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := comparator.NumericEqual(tt.expected, tt.actual, tt.eps); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	got := comparator.Normalize("a  \r\nb\t\n\n\n")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected normalized lines: %#v", got)
	}
}
