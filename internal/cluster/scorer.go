package cluster

import (
	"fmt"

	"github.com/afi-canon/internal/fuzzy"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// Rules holds the tier cut-offs. Similarity is 0-100, dominance 0-1.
type Rules struct {
	HighDominance    float64
	HighSimilarity   float64
	MediumDominance  float64
	MediumSimilarity float64
}

// DefaultRules returns the production cut-offs
func DefaultRules() Rules {
	return Rules{
		HighDominance:    0.60,
		HighSimilarity:   85,
		MediumDominance:  0.45,
		MediumSimilarity: 75,
	}
}

// Score is the confidence assessment of one cluster.
type Score struct {
	Members      []string
	Dominant     string  // dominant normalized form
	Dominance    float64 // dominant weight / total weight
	MinPair      float64 // lowest pairwise similarity, 100 for singletons
	CanonicalRaw string  // most frequent raw spelling of Dominant, title-cased
	Tier         mapping.Tier
	Note         string
}

// Scorer assigns a confidence tier to clusters.
type Scorer struct {
	Rules Rules
	Score fuzzy.Scorer
}

// ScoreCluster evaluates members against the weighted variants of their
// state. Ties on weight go to the spelling seen first.
func (s *Scorer) ScoreCluster(members []string, variants []Variant) Score {
	inCluster := make(map[string]bool, len(members))
	for _, m := range members {
		inCluster[m] = true
	}

	formWeight := make(map[string]int)
	var formOrder []string
	total := 0
	for _, v := range variants {
		if !inCluster[v.Normalized] {
			continue
		}
		if _, ok := formWeight[v.Normalized]; !ok {
			formOrder = append(formOrder, v.Normalized)
		}
		formWeight[v.Normalized] += v.Weight
		total += v.Weight
	}
	if len(formOrder) == 0 {
		formOrder = append(formOrder, members...)
	}

	dominant := formOrder[0]
	for _, f := range formOrder[1:] {
		if formWeight[f] > formWeight[dominant] {
			dominant = f
		}
	}
	dominance := 0.0
	if total > 0 {
		dominance = float64(formWeight[dominant]) / float64(total)
	}

	rawWeight := make(map[string]int)
	var rawOrder []string
	for _, v := range variants {
		if v.Normalized != dominant {
			continue
		}
		if _, ok := rawWeight[v.Raw]; !ok {
			rawOrder = append(rawOrder, v.Raw)
		}
		rawWeight[v.Raw] += v.Weight
	}
	canonicalRaw := dominant
	if len(rawOrder) > 0 {
		canonicalRaw = rawOrder[0]
		for _, r := range rawOrder[1:] {
			if rawWeight[r] > rawWeight[canonicalRaw] {
				canonicalRaw = r
			}
		}
	}

	minPair := 100.0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if r := s.Score(members[i], members[j]); r < minPair {
				minPair = r
			}
		}
	}

	sc := Score{
		Members:      members,
		Dominant:     dominant,
		Dominance:    dominance,
		MinPair:      minPair,
		CanonicalRaw: normalize.TitleCase(canonicalRaw),
	}

	switch {
	case len(members) == 1, dominance >= 1.0:
		sc.Tier = mapping.TierHigh
	case dominance >= s.Rules.HighDominance && minPair >= s.Rules.HighSimilarity:
		sc.Tier = mapping.TierHigh
	case dominance >= s.Rules.MediumDominance && minPair >= s.Rules.MediumSimilarity:
		sc.Tier = mapping.TierMedium
	default:
		sc.Tier = mapping.TierLow
		sc.Note = fmt.Sprintf("cluster_variants=%d; min_pair=%.2f; dominance=%.2f", len(members), minPair, dominance)
	}
	return sc
}
