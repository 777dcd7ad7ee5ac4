package fuzzy

import (
	"math"
	"testing"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "pune", "pune", 100},
		{"both empty", "", "", 100},
		{"one empty", "pune", "", 0},
		{"disjoint", "abc", "xyz", 0},
		// lcs("bengaluru", "banglore") = 5 (b,n,g,l,r): 2*5/17
		{"bangalore spellings", "bengaluru", "banglore", 100 * 10.0 / 17.0},
		// one substitution in 16 runes: lcs 15 of 32 total
		{"east vs west khasi", "east khasi hills", "west khasi hills", 100 * 30.0 / 32.0},
		{"unicode runes", "महाराष्ट्र", "महाराष्ट्र", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ratio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRatioIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"cuttack", "cuttak"},
		{"orissa", "odisha"},
		{"north twenty four parganas", "24 parganas north"},
	}
	for _, p := range pairs {
		if Ratio(p[0], p[1]) != Ratio(p[1], p[0]) {
			t.Errorf("Ratio not symmetric for %q / %q", p[0], p[1])
		}
	}
}

func TestLevenshteinRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"cuttack", "cuttak", 100 * (1 - 1.0/7.0)},
		{"", "", 100},
		{"abc", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			got := LevenshteinRatio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("LevenshteinRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "indel", "levenshtein"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q) error = %v", name, err)
		}
	}
	if _, err := ByName("jaro"); err == nil {
		t.Error("ByName(jaro) should fail")
	}
}

func TestRound(t *testing.T) {
	if got := Round(58.823529, 2); got != 58.82 {
		t.Errorf("Round() = %v, want 58.82", got)
	}
}
