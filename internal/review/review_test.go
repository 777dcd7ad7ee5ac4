package review

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afi-canon/internal/mapping"
)

func rec(state, district, canonical string, tier mapping.Tier) mapping.Record {
	r := mapping.Record{Key: mapping.NewKey(state, district), Tier: tier}
	if canonical != "" {
		r.CanonicalState = state
		r.CanonicalDistrict = canonical
	}
	return r
}

func fixed(v float64) func(a, b string) float64 {
	return func(a, b string) float64 { return v }
}

func TestDiagnose(t *testing.T) {
	d := Diagnose(rec("Meghalaya", "East Khasi Hills", "West Khasi Hills", mapping.TierHigh), nil)
	assert.Equal(t, 93.75, d.Ratio)
	assert.Equal(t, 0.5, d.Overlap)
	assert.True(t, d.DirectionMismatch)

	d = Diagnose(rec("Kerala", "Kochi", "", mapping.TierMedium), nil)
	assert.Equal(t, 0.0, d.Ratio)
	assert.Equal(t, 0.0, d.Overlap)
	assert.False(t, d.DirectionMismatch)
}

func TestSuspicionCheck(t *testing.T) {
	s := NewSuspicion(75, 0.4)
	tests := []struct {
		name        string
		record      mapping.Record
		wantFlag    bool
		wantReasons []string
	}{
		{
			name:     "identical high",
			record:   rec("Karnataka", "Bangalore Urban", "Bangalore Urban", mapping.TierHigh),
			wantFlag: false,
		},
		{
			name:        "low tier",
			record:      rec("Assam", "Kamrup", "Kamrup", mapping.TierLow),
			wantFlag:    true,
			wantReasons: []string{"not_auto_conf"},
		},
		{
			name:        "direction words differ",
			record:      rec("Meghalaya", "East Khasi Hills", "West Khasi Hills", mapping.TierHigh),
			wantFlag:    true,
			wantReasons: []string{"direction_mismatch"},
		},
		{
			name:        "different spelling",
			record:      rec("Karnataka", "Bangalore", "Bengaluru", mapping.TierHigh),
			wantFlag:    true,
			wantReasons: []string{"low_ratio(66.67)", "low_overlap(0.00)"},
		},
		{
			name:        "empty canonical",
			record:      rec("Kerala", "Kochi", "", mapping.TierMedium),
			wantFlag:    true,
			wantReasons: []string{"empty_token", "low_ratio(0)", "low_overlap(0.00)"},
		},
		{
			name:        "partial token overlap",
			record:      rec("Assam", "Kamrup Metro", "Kamrup Metropolitan", mapping.TierMedium),
			wantFlag:    true,
			wantReasons: []string{"low_overlap(0.33)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := s.Check(tt.record)
			assert.Equal(t, tt.wantFlag, v.Flag)
			assert.Equal(t, tt.wantReasons, v.Reasons)
		})
	}
}

func TestSuspicionNearIdenticalClearsLowRatio(t *testing.T) {
	s := &Suspicion{MinRatio: 98, MinOverlap: 0.4, Score: fixed(96)}
	v := s.Check(rec("Assam", "Kamrup Metro", "Kamrup Metro", mapping.TierHigh))
	assert.False(t, v.Flag)
	assert.Empty(t, v.Reasons)

	s.Score = fixed(90)
	v = s.Check(rec("Assam", "Kamrup Metro", "Kamrup Metro", mapping.TierHigh))
	assert.True(t, v.Flag)
	assert.Equal(t, []string{"low_ratio(90)"}, v.Reasons)
}

func TestEscalationClassify(t *testing.T) {
	tests := []struct {
		name       string
		record     mapping.Record
		ratio      float64
		wantAction Action
		wantReason string
	}{
		{"empty canonical", rec("Kerala", "Kochi", "", mapping.TierLow), 100, ActionReview, "empty_canonical"},
		{"direction beats similarity", rec("Meghalaya", "East Khasi Hills", "West Khasi Hills", mapping.TierHigh), 95, ActionReview, "direction_mismatch"},
		{"high similarity", rec("Assam", "Kamrup", "Kamrupp", mapping.TierHigh), 92, ActionAccept, "high_similarity(92)"},
		{"high overlap", rec("Assam", "Kamrup Metro", "Kamrup Metro", mapping.TierHigh), 85, ActionAccept, "high_overlap(1.00)_ratio(85)"},
		{"low similarity", rec("Assam", "Kamrup Metro", "Kamrup Metro", mapping.TierHigh), 65, ActionReview, "low_similarity_or_overlap(ratio=65,overlap=1.00)"},
		{"low overlap", rec("Assam", "Kamrup", "Kamrupp", mapping.TierHigh), 75, ActionReview, "low_similarity_or_overlap(ratio=75,overlap=0.00)"},
		{"heuristic", rec("Assam", "Kamrup Metro", "Kamrup Metropolitan", mapping.TierHigh), 75, ActionAccept, "heuristic_accept(ratio=75,overlap=0.33)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEscalation()
			e.Score = fixed(tt.ratio)
			d := e.Classify(tt.record)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, []string{tt.wantReason}, d.Reasons)
		})
	}
}

func TestEscalationKeepsOppositeDirectionsApart(t *testing.T) {
	d := NewEscalation().Classify(rec("Meghalaya", "East Khasi Hills", "West Khasi Hills", mapping.TierHigh))
	assert.Equal(t, ActionReview, d.Action)
	assert.Equal(t, 93.75, d.Diagnosis.Ratio)
}

func triageRecords() []mapping.Record {
	return []mapping.Record{
		rec("Karnataka", "Bangalore Urban", "Bangalore Urban", mapping.TierHigh),
		rec("Assam", "Kamrup", "Kamrup", mapping.TierLow),
		rec("Meghalaya", "East Khasi Hills", "West Khasi Hills", mapping.TierHigh),
		rec("Karnataka", "Bangalore", "Bengaluru", mapping.TierHigh),
		rec("Assam", "Kamrup Metro", "Kamrup Metropolitan", mapping.TierMedium),
	}
}

func TestTriage(t *testing.T) {
	res := Triage(triageRecords(), NewSuspicion(75, 0.4), NewEscalation())

	assert.Len(t, res.Verdicts, 5)
	assert.Equal(t, 4, res.Flagged())
	assert.Len(t, res.Decisions, 4)
	require.Len(t, res.Accepted, 3)
	require.Len(t, res.Review, 2)

	assert.Equal(t, mapping.NewKey("Assam", "Kamrup"), res.Accepted[1].Key)
	assert.Equal(t, mapping.TierMedium, res.Accepted[1].Tier, "accepted low tier is promoted")
	assert.Equal(t, "high_similarity(100)", res.Accepted[1].Note)
	assert.Equal(t, mapping.NewKey("Meghalaya", "East Khasi Hills"), res.Review[0].Record.Key)
	assert.Equal(t, StatusPending, res.Review[0].Status)

	layer := res.AcceptedLayer()
	assert.Equal(t, mapping.SourceAccepted, layer.Source)
	for _, r := range layer.Records {
		assert.Equal(t, mapping.SourceAccepted, r.Source)
	}
}

func openQueues(t *testing.T) map[string]Queue {
	t.Helper()
	ctx := context.Background()
	store, err := mapping.OpenLayerStore(ctx, filepath.Join(t.TempDir(), "canon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	sq, err := NewSQLiteQueue(ctx, store.DB())
	require.NoError(t, err)
	return map[string]Queue{"memory": NewMemoryQueue(), "sqlite": sq}
}

func TestQueueLifecycle(t *testing.T) {
	for name, q := range openQueues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			res := Triage(triageRecords(), NewSuspicion(75, 0.4), NewEscalation())
			require.NoError(t, res.Enqueue(ctx, q))

			pending, err := q.Pending(ctx, 0)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, []string{"direction_mismatch"}, pending[0].Reasons)
			assert.Equal(t, 93.75, pending[0].Ratio)

			limited, err := q.Pending(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			require.NoError(t, q.Resolve(ctx, pending[1].ID, Resolution{Outcome: OutcomeAccept, Reviewer: "asha"}))
			assert.ErrorIs(t, q.Resolve(ctx, "missing", Resolution{Outcome: OutcomeReject}), ErrUnknownItem)
			assert.Error(t, q.Resolve(ctx, pending[0].ID, Resolution{Outcome: OutcomeSkip}))

			// re-running triage refreshes the pending item and keeps the decision
			again := Triage(triageRecords(), NewSuspicion(75, 0.4), NewEscalation())
			require.NoError(t, again.Enqueue(ctx, q))

			pending, err = q.Pending(ctx, 0)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, mapping.NewKey("Meghalaya", "East Khasi Hills"), pending[0].Record.Key)

			resolved, err := q.Resolved(ctx)
			require.NoError(t, err)
			require.Len(t, resolved, 1)
			assert.Equal(t, StatusAccepted, resolved[0].Status)
			assert.Equal(t, OutcomeAccept, resolved[0].Resolution.Outcome)
			assert.Equal(t, "asha", resolved[0].Resolution.Reviewer)
			assert.Equal(t, "Bengaluru", resolved[0].Record.CanonicalDistrict)
		})
	}
}

func TestDrainWithFileReviewer(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	res := Triage(triageRecords(), NewSuspicion(75, 0.4), NewEscalation())
	require.NoError(t, res.Enqueue(ctx, q))

	decisions, err := ReadDecisions(strings.NewReader(
		"original_state,original_district,canonical_state,canonical_district,action,notes\n" +
			"Karnataka,Bangalore,,Bengaluru Urban,accept,renamed 2014\n" +
			"Meghalaya,East Khasi Hills,,,,\n"))
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	out, err := Drain(ctx, q, NewFileReviewer("", decisions), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Reviewed)
	assert.Equal(t, 1, out.Accepted)
	assert.Equal(t, 1, out.Skipped)

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "skipped item stays pending")

	resolved, err := q.Resolved(ctx)
	require.NoError(t, err)
	layer := ManualLayer(resolved)
	assert.Equal(t, mapping.SourceManual, layer.Source)
	require.Len(t, layer.Records, 1)
	r := layer.Records[0]
	assert.Equal(t, "Karnataka", r.CanonicalState)
	assert.Equal(t, "Bengaluru Urban", r.CanonicalDistrict)
	assert.Equal(t, mapping.TierHigh, r.Tier)
	assert.Equal(t, "reviewed by file: renamed 2014", r.Note)
}

func TestDrainWithStrictReviewer(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx,
		NewItem(Decision{Record: rec("Meghalaya", "East Khasi Hills", "West Khasi Hills", mapping.TierHigh)}),
		NewItem(Decision{Record: rec("Assam", "Kamrup Metro", "Kamrup Metropolitan", mapping.TierHigh)}),
		NewItem(Decision{Record: rec("Assam", "Kamrup.", "Kamrup", mapping.TierLow)}),
	))

	out, err := Drain(ctx, q, NewStrictReviewer(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Reviewed)
	assert.Equal(t, 1, out.Accepted)
	assert.Equal(t, 2, out.Rejected)
	assert.Equal(t, []mapping.Key{mapping.NewKey("Assam", "Kamrup.")}, out.AcceptedKeys)

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInteractiveReviewer(t *testing.T) {
	item := NewItem(Decision{Record: rec("Karnataka", "Bangalore", "Bengaluru", mapping.TierHigh), Reasons: []string{"low_ratio(66.67)"}})

	tests := []struct {
		name         string
		input        string
		wantOutcome  Outcome
		wantDistrict string
		wantErr      error
	}{
		{"accept", "a\n", OutcomeAccept, "", nil},
		{"edit after invalid", "x\ne\nBengaluru Urban\n", OutcomeAccept, "Bengaluru Urban", nil},
		{"reject", "r\nnot a rename\n", OutcomeReject, "", nil},
		{"skip", "s\n", OutcomeSkip, "", nil},
		{"quit", "q\n", "", "", ErrQuit},
		{"end of input", "", "", "", ErrQuit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			ir := NewInteractiveReviewer("asha", strings.NewReader(tt.input), &out)
			res, err := ir.Review(context.Background(), item)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantDistrict, res.CanonicalDistrict)
			assert.Contains(t, out.String(), "Original:  Karnataka / Bangalore")
		})
	}
}

func TestDrainStopsOnQuit(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx, NewItem(Decision{Record: rec("Karnataka", "Bangalore", "Bengaluru", mapping.TierHigh)})))

	var out bytes.Buffer
	res, err := Drain(ctx, q, NewInteractiveReviewer("", strings.NewReader("q\n"), &out), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reviewed)
}

func TestReports(t *testing.T) {
	res := Triage(triageRecords()[2:3], NewSuspicion(75, 0.4), NewEscalation())

	var buf bytes.Buffer
	require.NoError(t, WriteEscalationReport(&buf, res.Decisions))
	assert.Equal(t,
		"original_state,original_district,suggested_district,canonical_suggestion,suggestion_confidence,fuzzy_ratio,token_overlap,action,reason\n"+
			"Meghalaya,East Khasi Hills,,West Khasi Hills,auto_high,93.75,0.500,review,direction_mismatch\n",
		buf.String())

	buf.Reset()
	require.NoError(t, WriteSuspicionReport(&buf, res.Verdicts))
	assert.Contains(t, buf.String(), "Meghalaya,East Khasi Hills,,West Khasi Hills,auto_high,93.75,0.500,true,direction_mismatch\n")

	buf.Reset()
	require.NoError(t, WriteQueue(&buf, res.Review))
	decisions, err := ReadDecisions(&buf)
	require.NoError(t, err)
	assert.Empty(t, decisions, "pending items carry no action")
}

func TestReadDecisionsMissingColumns(t *testing.T) {
	_, err := ReadDecisions(strings.NewReader("original_state,original_district\nGoa,Panaji\n"))
	assert.ErrorIs(t, err, ErrMissingColumns)
}
