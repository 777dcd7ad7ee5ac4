package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afi-canon/internal/mapping"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	ctx := context.Background()
	store, err := mapping.OpenLayerStore(ctx, filepath.Join(t.TempDir(), "canon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tr, err := NewTracker(ctx, store.DB())
	require.NoError(t, err)
	return tr
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Unseen, Clustered, true},
		{Clustered, Scored, true},
		{Scored, Applied, true},
		{Scored, FlaggedForReview, true},
		{FlaggedForReview, Accepted, true},
		{FlaggedForReview, Rejected, true},
		{Accepted, Applied, true},
		{Rejected, PermanentlyUnresolved, true},
		{Applied, Reverted, true},
		{Unseen, Applied, false},
		{Rejected, Applied, false},
		{Reverted, Applied, false},
		{PermanentlyUnresolved, Accepted, false},
		{FlaggedForReview, Applied, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState("FLAGGED_FOR_REVIEW")
	require.NoError(t, err)
	assert.Equal(t, FlaggedForReview, s)
	assert.True(t, Applied.Terminal())
	assert.False(t, Scored.Terminal())

	_, err = ParseState("flagged")
	assert.Error(t, err)
}

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)
	key := mapping.NewKey("Meghalaya", "East Khasi Hills")

	cur, err := tr.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Unseen, cur)

	for _, s := range []State{Clustered, Scored, FlaggedForReview, Accepted, Applied} {
		require.NoError(t, tr.Record(ctx, false, key, s, "step"))
	}
	// Re-recording the current state is a no-op.
	require.NoError(t, tr.Record(ctx, false, key, Applied, "again"))

	err = tr.Record(ctx, false, key, Rejected, "late")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	cur, err = tr.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Applied, cur)

	history, err := tr.History(ctx, false, key)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, Unseen, history[0].From)
	assert.Equal(t, Clustered, history[0].To)
	assert.Equal(t, Accepted, history[4].From)
	assert.Equal(t, Applied, history[4].To)
	assert.False(t, history[4].RecordedAt.IsZero())
}

func TestTrackerRecordMany(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)
	goa := mapping.NewKey("Goa", "Margao")
	kerala := mapping.NewKey("Kerala", "Kochi")

	moved, refused, err := tr.RecordMany(ctx, false, []Transition{
		{Key: goa, To: Clustered},
		{Key: goa, To: Scored},
		{Key: goa, To: Applied},
		{Key: kerala, To: Clustered},
		{Key: kerala, To: Applied}, // skips Scored
	})
	require.NoError(t, err)
	assert.Equal(t, 4, moved)
	assert.Equal(t, 1, refused)

	counts, err := tr.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[State]int{Applied: 1, Clustered: 1}, counts)

	moved, refused, err = tr.RecordMany(ctx, false, nil)
	require.NoError(t, err)
	assert.Zero(t, moved)
	assert.Zero(t, refused)
}
