package cluster

import (
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// SuggestRules holds the dominance cut-offs of the suggestion engine.
type SuggestRules struct {
	HighDominance   float64
	MediumDominance float64
}

// DefaultSuggestRules returns the production cut-offs
func DefaultSuggestRules() SuggestRules {
	return SuggestRules{HighDominance: 0.60, MediumDominance: 0.35}
}

// Suggestion confidence labels
const (
	SuggestAutoHigh   = "auto_high"
	SuggestAutoMedium = "auto_medium"
	SuggestManual     = "manual"
)

// Suggest proposes canonical names for records the clusterer left
// unresolved. Records are grouped by their cleaned suggested district (or
// the original district when no suggestion exists); the most common raw
// spelling in a group becomes the proposal. The result carries the proposal
// in the canonical fields and the label in SuggestionConfidence; callers
// decide whether to trust it. Duplicate keys keep their first record.
func Suggest(records []mapping.Record, rules SuggestRules) []mapping.Record {
	groupKey := func(r mapping.Record) string {
		if r.SuggestedDistrict != "" {
			return normalize.Clean(r.SuggestedDistrict)
		}
		return normalize.Clean(r.Key.District)
	}

	type tally struct {
		counts map[string]int
		order  []string
		total  int
	}
	groups := make(map[string]*tally)
	for _, r := range records {
		k := groupKey(r)
		t, ok := groups[k]
		if !ok {
			t = &tally{counts: make(map[string]int)}
			groups[k] = t
		}
		raw := r.Key.District
		if _, ok := t.counts[raw]; !ok {
			t.order = append(t.order, raw)
		}
		t.counts[raw]++
		t.total++
	}

	seen := make(map[mapping.Key]bool)
	out := make([]mapping.Record, 0, len(records))
	for _, r := range records {
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true

		k := groupKey(r)
		stateSrc := r.SuggestedState
		if stateSrc == "" {
			stateSrc = r.Key.State
		}
		state := normalize.TitleCase(normalize.Clean(stateSrc))

		s := r
		s.CanonicalState, s.CanonicalDistrict = "", ""

		t := groups[k]
		var candidate string
		var dominance float64
		if k != "" && t != nil && t.total > 0 {
			candidate = t.order[0]
			for _, raw := range t.order[1:] {
				if t.counts[raw] > t.counts[candidate] {
					candidate = raw
				}
			}
			dominance = float64(t.counts[candidate]) / float64(t.total)
			candidate = normalize.TitleCase(candidate)
		}

		switch {
		case candidate != "" && dominance >= rules.HighDominance:
			s.CanonicalState, s.CanonicalDistrict = state, candidate
			s.SuggestionConfidence = SuggestAutoHigh
			s.Tier = mapping.TierHigh
		case candidate != "" && dominance >= rules.MediumDominance:
			s.CanonicalState, s.CanonicalDistrict = state, candidate
			s.SuggestionConfidence = SuggestAutoMedium
			s.Tier = mapping.TierMedium
		case k != "":
			s.CanonicalState, s.CanonicalDistrict = state, normalize.TitleCase(k)
			s.SuggestionConfidence = SuggestAutoMedium
			s.Tier = mapping.TierMedium
		default:
			s.SuggestionConfidence = SuggestManual
			s.Tier = mapping.TierLow
		}
		s.Source = mapping.AutoSource(s.Tier)
		out = append(out, s)
	}
	return out
}
