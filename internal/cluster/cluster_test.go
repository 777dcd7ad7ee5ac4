package cluster

import (
	"context"
	"strings"
	"testing"

	"github.com/afi-canon/internal/fuzzy"
	"github.com/afi-canon/internal/mapping"
)

// fixedScorer treats every distinct pair as equally similar.
func fixedScorer(score float64) fuzzy.Scorer {
	return func(a, b string) float64 {
		if a == b {
			return 100
		}
		return score
	}
}

func newMapper(score fuzzy.Scorer, mode Mode) *Mapper {
	return &Mapper{
		Clusterer: &Clusterer{Threshold: 85, MinSize: 2, Mode: mode, Score: score},
		Scorer:    &Scorer{Rules: DefaultRules(), Score: score},
		Workers:   4,
	}
}

func TestAutoMapBengaluru(t *testing.T) {
	obs := NewObservations()
	obs.Add("Karnataka", "Bengaluru", 700)
	obs.Add("Karnataka", "Bengaluru Urban", 150)
	obs.Add("Karnataka", "Banglore", 150)

	records, err := newMapper(fixedScorer(88), Greedy).AutoMap(context.Background(), obs)
	if err != nil {
		t.Fatalf("AutoMap() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for _, r := range records {
		if r.Tier != mapping.TierHigh {
			t.Errorf("%s tier = %v, want high", r.Key, r.Tier)
		}
		if r.CanonicalDistrict != "Bengaluru" || r.CanonicalState != "Karnataka" {
			t.Errorf("%s canonical = (%q, %q), want (Karnataka, Bengaluru)", r.Key, r.CanonicalState, r.CanonicalDistrict)
		}
		if r.Source != mapping.SourceAutoHigh {
			t.Errorf("%s source = %s, want auto_high", r.Key, r.Source)
		}
	}
}

func TestScoreClusterTiers(t *testing.T) {
	variants := func(weights ...int) []Variant {
		names := []string{"pune", "poona", "puna"}
		var out []Variant
		for i, w := range weights {
			out = append(out, Variant{State: "maharashtra", Raw: strings.ToUpper(names[i]), Normalized: names[i], Weight: w})
		}
		return out
	}

	tests := []struct {
		name     string
		members  []string
		variants []Variant
		score    float64
		want     mapping.Tier
		wantNote bool
	}{
		{"single member", []string{"pune"}, variants(5), 0, mapping.TierHigh, false},
		{"dominant and similar", []string{"poona", "pune"}, variants(60, 40), 90, mapping.TierHigh, false},
		{"medium dominance", []string{"poona", "pune"}, variants(50, 50), 80, mapping.TierMedium, false},
		{"dissimilar", []string{"poona", "pune"}, variants(90, 10), 60, mapping.TierLow, true},
		{"split three ways", []string{"poona", "puna", "pune"}, variants(40, 30, 30), 90, mapping.TierLow, true},
		{"full dominance with dissimilar members", []string{"poona", "pune"}, variants(10, 0), 40, mapping.TierHigh, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Scorer{Rules: DefaultRules(), Score: fixedScorer(tt.score)}
			got := s.ScoreCluster(tt.members, tt.variants)
			if got.Tier != tt.want {
				t.Errorf("tier = %v, want %v (dominance %.2f, min_pair %.2f)", got.Tier, tt.want, got.Dominance, got.MinPair)
			}
			if (got.Note != "") != tt.wantNote {
				t.Errorf("note = %q, wantNote %v", got.Note, tt.wantNote)
			}
		})
	}
}

func TestScoreClusterNote(t *testing.T) {
	s := &Scorer{Rules: DefaultRules(), Score: fixedScorer(62.5)}
	got := s.ScoreCluster([]string{"a", "b", "c"}, []Variant{
		{Normalized: "a", Raw: "A", Weight: 4},
		{Normalized: "b", Raw: "B", Weight: 3},
		{Normalized: "c", Raw: "C", Weight: 3},
	})
	want := "cluster_variants=3; min_pair=62.50; dominance=0.40"
	if got.Note != want {
		t.Errorf("note = %q, want %q", got.Note, want)
	}
}

func TestScoreClusterCanonicalRaw(t *testing.T) {
	s := &Scorer{Rules: DefaultRules(), Score: fixedScorer(95)}
	got := s.ScoreCluster([]string{"north goa", "north goa district"}, []Variant{
		{Normalized: "north goa", Raw: "NORTH GOA", Weight: 10},
		{Normalized: "north goa", Raw: "North Goa.", Weight: 30},
		{Normalized: "north goa district", Raw: "North Goa District", Weight: 5},
	})
	if got.Dominant != "north goa" {
		t.Errorf("dominant = %q, want north goa", got.Dominant)
	}
	if got.CanonicalRaw != "North Goa." {
		t.Errorf("canonical raw = %q, want North Goa.", got.CanonicalRaw)
	}
}

func TestGreedyIsOrderDependent(t *testing.T) {
	// a~b and b~c but not a~c
	score := func(x, y string) float64 {
		pair := x + y
		switch pair {
		case "ab", "ba", "bc", "cb":
			return 90
		}
		if x == y {
			return 100
		}
		return 10
	}
	c := &Clusterer{Threshold: 85, MinSize: 2, Mode: Greedy, Score: score}

	fromA := c.Cluster([]string{"a", "b", "c"})
	if len(fromA) != 2 {
		t.Errorf("seed a: got %v, want 2 clusters", fromA)
	}
	fromB := c.Cluster([]string{"b", "a", "c"})
	if len(fromB) != 1 {
		t.Errorf("seed b: got %v, want 1 cluster", fromB)
	}

	c.Mode = UnionFind
	for _, order := range [][]string{{"a", "b", "c"}, {"b", "a", "c"}, {"c", "a", "b"}} {
		if got := c.Cluster(order); len(got) != 1 {
			t.Errorf("union find %v: got %v, want 1 cluster", order, got)
		}
	}
}

func TestClusterBelowMinSize(t *testing.T) {
	c := &Clusterer{Threshold: 0, MinSize: 3, Mode: Greedy, Score: fixedScorer(100)}
	got := c.Cluster([]string{"a", "b"})
	if len(got) != 2 {
		t.Errorf("got %v, want every variant alone", got)
	}
}

func TestClusterEveryFormAssignedOnce(t *testing.T) {
	forms := []string{"east khasi hills", "west khasi hills", "ri bhoi", "ribhoi", "jaintia hills"}
	for _, mode := range []Mode{Greedy, UnionFind} {
		c := &Clusterer{Threshold: 85, MinSize: 2, Mode: mode, Score: fuzzy.Ratio}
		seen := make(map[string]int)
		for _, cl := range c.Cluster(forms) {
			for _, m := range cl {
				seen[m]++
			}
		}
		for _, f := range forms {
			if seen[f] != 1 {
				t.Errorf("%s: %q assigned %d times", mode, f, seen[f])
			}
		}
	}
}

func TestAutoMapLowTierLeavesCanonicalEmpty(t *testing.T) {
	obs := NewObservations()
	obs.Add("Bihar", "Purba Champaran", 40)
	obs.Add("Bihar", "Purbi Champaran", 35)
	obs.Add("Bihar", "Purb Champaran", 25)

	records, err := newMapper(fixedScorer(86), Greedy).AutoMap(context.Background(), obs)
	if err != nil {
		t.Fatalf("AutoMap() error = %v", err)
	}
	for _, r := range records {
		if r.Tier != mapping.TierLow {
			t.Fatalf("%s tier = %v, want low", r.Key, r.Tier)
		}
		if r.CanonicalState != "" || r.CanonicalDistrict != "" {
			t.Errorf("%s canonical should be empty, got (%q, %q)", r.Key, r.CanonicalState, r.CanonicalDistrict)
		}
		if r.SuggestedDistrict != "Purba Champaran" {
			t.Errorf("%s suggested = %q, want Purba Champaran", r.Key, r.SuggestedDistrict)
		}
		if !strings.HasPrefix(r.Note, "cluster_variants=3") {
			t.Errorf("%s note = %q", r.Key, r.Note)
		}
	}
}

func TestAutoMapDeterministicOrder(t *testing.T) {
	obs := NewObservations()
	for _, st := range []string{"Kerala", "Assam", "Goa", "Bihar", "Punjab", "Sikkim"} {
		obs.Add(st, st+" North", 3)
		obs.Add(st, st+" South", 2)
	}

	m := newMapper(fuzzy.Ratio, Greedy)
	first, err := m.AutoMap(context.Background(), obs)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := m.AutoMap(context.Background(), obs)
		if err != nil {
			t.Fatal(err)
		}
		for j := range first {
			if first[j].Key != again[j].Key {
				t.Fatalf("run %d: record %d = %s, want %s", i, j, again[j].Key, first[j].Key)
			}
		}
	}
	if first[0].Key.State != "Kerala" {
		t.Errorf("first record state = %q, want observation order", first[0].Key.State)
	}
}

func TestAutoMapCancelled(t *testing.T) {
	obs := NewObservations()
	obs.Add("Goa", "North Goa", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newMapper(fuzzy.Ratio, Greedy).AutoMap(ctx, obs); err == nil {
		t.Error("expected context error")
	}
}

func TestSuggest(t *testing.T) {
	records := []mapping.Record{
		{Key: mapping.NewKey("bihar", "East Champaran"), SuggestedState: "Bihar", SuggestedDistrict: "Purba Champaran"},
		{Key: mapping.NewKey("bihar", "east champaran"), SuggestedState: "Bihar", SuggestedDistrict: "Purba Champaran"},
		{Key: mapping.NewKey("bihar ", "East Champaran"), SuggestedState: "Bihar", SuggestedDistrict: "Purba Champaran"},
		{Key: mapping.NewKey("odisha", "Anugul"), SuggestedDistrict: "Angul"},
		{Key: mapping.NewKey("odisha", "Angul"), SuggestedDistrict: "Angul"},
		{Key: mapping.NewKey("odisha", "Angul."), SuggestedDistrict: "Angul"},
		{Key: mapping.NewKey("odisha", "ANGUL"), SuggestedDistrict: "Angul"},
		{Key: mapping.NewKey("goa", ""), SuggestedDistrict: ""},
	}

	got := Suggest(records, DefaultSuggestRules())
	byKey := make(map[mapping.Key]mapping.Record)
	for _, r := range got {
		byKey[r.Key] = r
	}

	east := byKey[mapping.NewKey("bihar", "East Champaran")]
	if east.SuggestionConfidence != SuggestAutoHigh || east.CanonicalDistrict != "East Champaran" || east.CanonicalState != "Bihar" {
		t.Errorf("East Champaran suggestion = %+v", east)
	}

	angul := byKey[mapping.NewKey("odisha", "Anugul")]
	if angul.SuggestionConfidence != SuggestAutoMedium || angul.CanonicalDistrict != "Angul" {
		t.Errorf("Angul suggestion = %+v", angul)
	}
	if angul.CanonicalState != "Odisha" {
		t.Errorf("state should fall back to the original, got %q", angul.CanonicalState)
	}

	blank := byKey[mapping.NewKey("goa", "")]
	if blank.SuggestionConfidence != SuggestManual || blank.CanonicalDistrict != "" || blank.Tier != mapping.TierLow {
		t.Errorf("blank suggestion = %+v", blank)
	}

	// "bihar " trims to the same key as the first record
	if len(got) != 7 {
		t.Errorf("got %d suggestions, want 7 distinct keys", len(got))
	}
}

func TestObservationsByState(t *testing.T) {
	obs := NewObservations()
	obs.Add("Tamil Nadu", "Chennai", 3)
	obs.Add("TAMIL NADU", "chennai", 2)
	obs.Add("Kerala", "Kochi", 1)
	obs.Add("Tamil Nadu", "Chennai", 4)

	groups := obs.ByState()
	if len(groups) != 2 || groups[0].State != "tamil nadu" {
		t.Fatalf("groups = %+v", groups)
	}
	if forms := groups[0].Forms(); len(forms) != 1 || forms[0] != "chennai" {
		t.Errorf("forms = %v, want [chennai]", forms)
	}
	if w := obs.Weight(mapping.NewKey("Tamil Nadu", "Chennai")); w != 7 {
		t.Errorf("weight = %d, want 7", w)
	}
	if obs.Total() != 10 {
		t.Errorf("total = %d, want 10", obs.Total())
	}
}
