package apply

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afi-canon/internal/config"
	"github.com/afi-canon/internal/mapping"
)

func TestCheck(t *testing.T) {
	in := strings.Join([]string{
		"state,district,state_clean,district_clean,state_canonical,pincode,date",
		"Orissa,Cuttack,Orissa,Cuttack,Odisha,753001,01-03-2025",
		"Odisha,Puri,Odisha,Puri,Odisha,75200,15-03-2025",
		"Goa,panjim,Goa,Panaji,Goa,403001,",
	}, "\n") + "\n"

	sum, err := Check(context.Background(), strings.NewReader(in), "enrolment", 2)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 3, sum.UniqueStates)
	assert.Equal(t, 2, sum.UniqueCanonical)
	assert.Equal(t, 0, sum.EmptyCanonical)
	assert.Equal(t, 2, sum.ChangedRows)
	assert.InDelta(t, 66.667, sum.PctChanged, 0.001)
	assert.Equal(t, 1, sum.BadPincodes)
	assert.Equal(t, 1, sum.MissingCells["date"])
	assert.Equal(t, []StateChange{{From: "Orissa", To: "Odisha", Count: 1}}, sum.TopChanges)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), sum.FirstDate)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), sum.LastDate)
}

func TestCheckFallsBackToStateClean(t *testing.T) {
	in := "state,state_clean\nOrissa,Odisha\nKerala,Kerala\n"
	sum, err := Check(context.Background(), strings.NewReader(in), "demographic", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ChangedRows)
	assert.Equal(t, 2, sum.UniqueCanonical)
}

const changedRows = `state,district,state_clean,district_clean,enrol_total
Meghalaya,East Khasi Hills,Meghalaya,West Khasi Hills,10
Meghalaya,East Khasi Hills,Meghalaya,West Khasi Hills,5
Assam,Kamrup,Assam,Kamrup Metropolitan,20
Goa,Panaji,Goa,Panaji,100
`

func TestTopChanges(t *testing.T) {
	tests := []struct {
		name      string
		weights   []string
		wantFirst string
		wantTotal float64
	}{
		{"weighted", []string{"enrol_total"}, "Assam", 20},
		{"by rows", nil, "Meghalaya", 2},
		{"unknown weight column", []string{"bio_total"}, "Meghalaya", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TopChanges(context.Background(), strings.NewReader(changedRows), tt.weights, 0, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, tt.wantFirst, got[0].Original.State)
			assert.Equal(t, tt.wantTotal, got[0].Weight)
		})
	}
}

func TestRevertRecordsPinOriginals(t *testing.T) {
	changes, err := TopChanges(context.Background(), strings.NewReader(changedRows), []string{"enrol_total"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	recs := RevertRecords(changes)
	require.Len(t, recs, 1)
	assert.Equal(t, mapping.NewKey("Assam", "Kamrup"), recs[0].Key)
	assert.Equal(t, "Kamrup", recs[0].CanonicalDistrict)

	store := mapping.Merge(
		mapping.NewLayer(mapping.SourceAutoHigh, []mapping.Record{{
			Key: recs[0].Key, CanonicalState: "Assam", CanonicalDistrict: "Kamrup Metropolitan", Tier: mapping.TierHigh,
		}}),
		mapping.NewLayer(mapping.SourceReverted, recs),
	)
	r, ok := store.Resolve(recs[0].Key, highAndMedium, "Unknown")
	require.True(t, ok)
	assert.Equal(t, "Kamrup", r.CanonicalDistrict)
}

func TestDryRun(t *testing.T) {
	in := "state,district\nKarnataka,Bangalore\nKarnataka,Mysore\nKarnataka,Bangalore\n"
	res, err := DryRun(context.Background(), strings.NewReader(in), testStore(), highAndMedium, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Keys)
	assert.Equal(t, 1, res.AppliedKeys)
	assert.Equal(t, 2, res.AppliedRows)
	assert.Equal(t, map[mapping.Key]int{mapping.NewKey("Karnataka", "Mysore"): 1}, res.Unresolved)
}

func TestStateResolver(t *testing.T) {
	r := NewStateResolver(config.CanonicalStates, config.DefaultStateRemaps(), 0.92)
	tests := []struct {
		input      string
		want       string
		wantSource string
	}{
		{"Kerala", "Kerala", StateWhitelist},
		{"Orissa", "Odisha", StateManualMap},
		{"  Orissa ", "Odisha", StateManualMap},
		{"Jammu & Kashmir", "Jammu and Kashmir", StateManualMap},
		{"Nagpur", "Maharashtra", StateManualMap},
		{"Tamilnadu", "Tamil Nadu", StateFuzzyAuto},
		{"WEST BENGAL", "West Bengal", StateFuzzyAuto},
		{"Xyz", "Xyz", StateNeedsReview},
		{"", "", StateNeedsReview},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := r.Resolve(tt.input)
			assert.Equal(t, tt.want, got.Canonical)
			assert.Equal(t, tt.wantSource, got.Source)
		})
	}
}

func TestSuggestStates(t *testing.T) {
	r := NewStateResolver(config.CanonicalStates, nil, 0.92)
	counts, err := StateCounts(context.Background(),
		strings.NewReader("state\nOrissa\nTamilnadu\nTamilnadu\nGoa\n\n"), "state", 2)
	require.NoError(t, err)

	got := r.SuggestStates(counts)
	require.Len(t, got, 2)
	assert.Equal(t, "Tamilnadu", got[0].Value)
	assert.Equal(t, 2, got[0].Count)
	assert.Equal(t, "Tamil Nadu", got[0].Suggested)
	assert.Equal(t, "Orissa", got[1].Value)

	var buf bytes.Buffer
	require.NoError(t, WriteStateSuggestions(&buf, got))
	assert.True(t, strings.HasPrefix(buf.String(), "state_value,count,suggested_state,score\nTamilnadu,2,Tamil Nadu,0.9474\n"))
}

func TestWriteUnresolved(t *testing.T) {
	store := mapping.Merge(mapping.NewLayer(mapping.SourceAutoLow, []mapping.Record{{
		Key: mapping.NewKey("Meghalaya", "East Khasi Hills"), SuggestedState: "Meghalaya",
		SuggestedDistrict: "West Khasi Hills", Tier: mapping.TierLow, Note: "cluster_variants=2",
	}}))
	unresolved := map[mapping.Key]int{
		mapping.NewKey("Meghalaya", "East Khasi Hills"): 4,
		mapping.NewKey("Kerala", "Kochi"):               9,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteUnresolved(&buf, store, unresolved))
	want := "original_state,original_district,canonical_state,canonical_district,suggested_state,suggested_district,confidence,source,notes,rows\n" +
		"Kerala,Kochi,,,,,,,,9\n" +
		"Meghalaya,East Khasi Hills,,,Meghalaya,West Khasi Hills,low,auto_low,cluster_variants=2,4\n"
	assert.Equal(t, want, buf.String())
}
