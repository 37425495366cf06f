package prefixeval

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRougeL(t *testing.T) {
	tests := []struct {
		name, ref, cand string
		want            float64
	}{
		{"identical", "the cat sat on the mat", "the cat sat on the mat", 1},
		{"case and punctuation", "Imatinib inhibits KIT.", "imatinib, inhibits kit", 1},
		// LCS 3 ("cat sat mat"), P = 3/4, R = 3/6, F = 0.6
		{"partial", "the cat sat on the mat", "cat sat big mat", 0.6},
		{"disjoint", "alpha beta", "gamma delta", 0},
		{"empty candidate", "alpha", "", 0},
		{"stemmed forms match", "inhibits receptors", "inhibiting receptor", 1},
		// "kinases" stems to "kinas", which "kinase" (stem "kinas") matches
		{"plural", "tyrosine kinases", "tyrosine kinase", 1},
		// short tokens are not stemmed: "has" and "had" differ
		{"short tokens kept", "has", "had", 0},
		// non-ASCII letters split tokens: "café" -> "caf"
		{"ascii tokens only", "café noir", "caf noir", 1},
		{"only non-ascii", "胃癌", "胃癌", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RougeL(tt.ref, tt.cand); !near(got, tt.want) {
				t.Errorf("RougeL = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSequenceRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abcd", "abcd", 1},
		{"abcd", "bcde", 0.75},
		{"", "", 1},
		{"abc", "", 0},
		{"胃癌", "胃癌", 1},
	}
	for _, tt := range tests {
		if got := SequenceRatio(tt.a, tt.b); !near(got, tt.want) {
			t.Errorf("SequenceRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	s := Describe([]float64{4, 1, 3, 2})
	want := Stats{Count: 4, Mean: 2.5, Min: 1, P25: 1.75, P50: 2.5, P75: 3.25, Max: 4}
	if s.Count != want.Count || !near(s.Mean, want.Mean) || !near(s.Min, want.Min) || !near(s.Max, want.Max) {
		t.Errorf("Describe = %+v", s)
	}
	if !near(s.P25, want.P25) || !near(s.P50, want.P50) || !near(s.P75, want.P75) {
		t.Errorf("quartiles = %v %v %v", s.P25, s.P50, s.P75)
	}
	// sample std of 1..4
	if !near(s.Std, math.Sqrt(5.0/3.0)) {
		t.Errorf("Std = %v", s.Std)
	}

	if one := Describe([]float64{0.3}); one.Std != 0 || one.P75 != 0.3 {
		t.Errorf("single value = %+v", one)
	}
	if empty := Describe(nil); empty != (Stats{}) {
		t.Errorf("empty = %+v", empty)
	}
}
