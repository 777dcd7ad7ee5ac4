package apply

import (
	"sort"
	"strings"
	"sync"

	"github.com/afi-canon/internal/fuzzy"
)

// State resolution sources written to state_canonical_source
const (
	StateWhitelist   = "whitelist"
	StateManualMap   = "manual_map"
	StateFuzzyAuto   = "fuzzy_auto"
	StateNeedsReview = "needs_review"
)

// StateMatch is the canonical state chosen for one cleaned state value.
type StateMatch struct {
	Canonical string
	Source    string
	Score     float64 // 0-1 similarity to Canonical, 1 for exact matches
}

// StateResolver maps cleaned state values onto a whitelist of canonical
// states: exact whitelist hit, then the manual map, then the closest
// whitelist entry when it scores at least Threshold. Anything else is kept
// as-is and marked for review. Results are cached and safe for concurrent use.
type StateResolver struct {
	list      []string
	whitelist map[string]bool
	manual    map[string]string
	Threshold float64
	Score     fuzzy.Scorer

	mu    sync.Mutex
	cache map[string]StateMatch
}

// NewStateResolver builds a resolver. threshold is on the 0-1 scale.
func NewStateResolver(whitelist []string, manual map[string]string, threshold float64) *StateResolver {
	wl := make(map[string]bool, len(whitelist))
	for _, w := range whitelist {
		wl[w] = true
	}
	m := make(map[string]string, len(manual))
	for k, v := range manual {
		m[collapse(k)] = v
	}
	return &StateResolver{
		list:      append([]string(nil), whitelist...),
		whitelist: wl,
		manual:    m,
		Threshold: threshold,
		Score:     fuzzy.Ratio,
		cache:     make(map[string]StateMatch),
	}
}

// Resolve picks the canonical state for a cleaned state value.
func (s *StateResolver) Resolve(state string) StateMatch {
	v := collapse(state)

	s.mu.Lock()
	if m, ok := s.cache[v]; ok {
		s.mu.Unlock()
		return m
	}
	s.mu.Unlock()

	var m StateMatch
	switch {
	case s.whitelist[v]:
		m = StateMatch{Canonical: v, Source: StateWhitelist, Score: 1}
	case s.manual[v] != "":
		m = StateMatch{Canonical: s.manual[v], Source: StateManualMap, Score: 1}
	default:
		best, score := s.Best(v)
		if best != "" && score >= s.Threshold {
			m = StateMatch{Canonical: best, Source: StateFuzzyAuto, Score: score}
		} else {
			m = StateMatch{Canonical: v, Source: StateNeedsReview, Score: score}
		}
	}

	s.mu.Lock()
	s.cache[v] = m
	s.mu.Unlock()
	return m
}

// Best returns the closest whitelist entry and its 0-1 similarity,
// compared case-insensitively. Ties keep the earlier whitelist entry.
func (s *StateResolver) Best(state string) (string, float64) {
	v := strings.ToLower(collapse(state))
	if v == "" {
		return "", 0
	}
	best, bestScore := "", 0.0
	for _, w := range s.list {
		if score := s.Score(v, strings.ToLower(w)) / 100; score > bestScore {
			best, bestScore = w, score
		}
	}
	return best, bestScore
}

// Canonical reports whether state is on the whitelist.
func (s *StateResolver) Canonical(state string) bool {
	return s.whitelist[collapse(state)]
}

// StateSuggestion is a non-whitelisted state value with its closest match.
type StateSuggestion struct {
	Value     string
	Count     int
	Suggested string
	Score     float64
}

// SuggestStates lists every non-whitelisted, non-empty value of counts with
// its best whitelist match, most frequent first.
func (s *StateResolver) SuggestStates(counts map[string]int) []StateSuggestion {
	var out []StateSuggestion
	for v, n := range counts {
		v = collapse(v)
		if v == "" || s.whitelist[v] {
			continue
		}
		best, score := s.Best(v)
		out = append(out, StateSuggestion{Value: v, Count: n, Suggested: best, Score: fuzzy.Round(score, 4)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
