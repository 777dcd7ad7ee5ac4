// Package fuzzy scores string similarity on a 0-100 scale.
package fuzzy

import (
	"fmt"
	"math"

	"github.com/agnivade/levenshtein"
)

// Scorer returns the similarity of two strings on a 0-100 scale.
type Scorer func(a, b string) float64

// Ratio is the normalized InDel similarity
// 100 * (1 - indel(a, b) / (len(a) + len(b))), computed over runes.
// The insert/delete distance equals len(a) + len(b) - 2*LCS(a, b).
// Two empty strings are identical.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	lcs := lcsLength(ra, rb)
	return 100 * float64(2*lcs) / float64(total)
}

// lcsLength uses two rolling rows, so memory stays O(len(b)).
func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// LevenshteinRatio is 100 * (1 - distance / max(len(a), len(b))).
func LevenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}

// Round rounds a score to the given number of decimals for reports.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// ByName selects a scorer by its configuration name.
func ByName(name string) (Scorer, error) {
	switch name {
	case "", "indel":
		return Ratio, nil
	case "levenshtein":
		return LevenshteinRatio, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", name)
	}
}
