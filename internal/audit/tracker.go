package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/afi-canon/internal/debug"
	"github.com/afi-canon/internal/mapping"
)

// ErrIllegalTransition is returned when a key may not move to the requested state
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// Tracker manages the lifecycle history of mapping keys
type Tracker struct {
	db  *sql.DB
	now func() time.Time
}

const trackerSchema = `
CREATE TABLE IF NOT EXISTS key_state (
	original_state    TEXT NOT NULL,
	original_district TEXT NOT NULL,
	state             TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	PRIMARY KEY (original_state, original_district)
);
CREATE TABLE IF NOT EXISTS key_history (
	history_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	original_state    TEXT NOT NULL,
	original_district TEXT NOT NULL,
	from_state        TEXT NOT NULL,
	to_state          TEXT NOT NULL,
	detail            TEXT NOT NULL DEFAULT '',
	recorded_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_key_history_key ON key_history(original_state, original_district);
`

// NewTracker creates the lifecycle tables on db if needed
func NewTracker(ctx context.Context, db *sql.DB) (*Tracker, error) {
	if _, err := db.ExecContext(ctx, trackerSchema); err != nil {
		return nil, fmt.Errorf("failed to create lifecycle schema: %w", err)
	}
	return &Tracker{db: db, now: time.Now}, nil
}

// Transition moves one key to a new state
type Transition struct {
	Key    mapping.Key
	To     State
	Detail string
}

// HistoryEntry is one recorded transition
type HistoryEntry struct {
	From       State
	To         State
	Detail     string
	RecordedAt time.Time
}

// Record moves key to state to. Recording the state a key is already in is
// a no-op; any other move not allowed by CanTransition fails with
// ErrIllegalTransition.
func (t *Tracker) Record(ctx context.Context, localDebug bool, key mapping.Key, to State, detail string) error {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	moved, err := t.apply(ctx, tx, Transition{Key: key, To: to, Detail: detail})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	debug.DebugOutput(localDebug, "Recorded %s -> %s (moved=%v)", key, to, moved)
	return nil
}

// RecordMany applies transitions in one transaction. Illegal moves are
// skipped and counted rather than failing the batch.
func (t *Tracker) RecordMany(ctx context.Context, localDebug bool, batch []Transition) (moved, refused int, err error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	if len(batch) == 0 {
		return 0, 0, nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, tr := range batch {
		ok, err := t.apply(ctx, tx, tr)
		switch {
		case errors.Is(err, ErrIllegalTransition):
			refused++
			debug.DebugOutput(localDebug, "Refused %v", err)
		case err != nil:
			return moved, refused, err
		case ok:
			moved++
		}
	}
	if err := tx.Commit(); err != nil {
		return moved, refused, fmt.Errorf("failed to commit transaction: %w", err)
	}
	debug.DebugOutput(localDebug, "Recorded %d transitions, refused %d", moved, refused)
	return moved, refused, nil
}

func (t *Tracker) apply(ctx context.Context, tx *sql.Tx, tr Transition) (bool, error) {
	cur, err := current(ctx, tx, tr.Key)
	if err != nil {
		return false, err
	}
	if cur == tr.To {
		return false, nil
	}
	if !CanTransition(cur, tr.To) {
		return false, fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, tr.Key, cur, tr.To)
	}

	at := t.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO key_history (original_state, original_district, from_state, to_state, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.Key.State, tr.Key.District, string(cur), string(tr.To), tr.Detail, at); err != nil {
		return false, fmt.Errorf("failed to insert history for %s: %w", tr.Key, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO key_state (original_state, original_district, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (original_state, original_district) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, tr.Key.State, tr.Key.District, string(tr.To), at); err != nil {
		return false, fmt.Errorf("failed to update state for %s: %w", tr.Key, err)
	}
	return true, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func current(ctx context.Context, q queryRower, key mapping.Key) (State, error) {
	var s string
	err := q.QueryRowContext(ctx, `
		SELECT state FROM key_state WHERE original_state = ? AND original_district = ?
	`, key.State, key.District).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return Unseen, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state for %s: %w", key, err)
	}
	return State(s), nil
}

// Current returns the state of key, Unseen when it was never recorded.
func (t *Tracker) Current(ctx context.Context, key mapping.Key) (State, error) {
	return current(ctx, t.db, key)
}

// History retrieves every transition of key, oldest first
func (t *Tracker) History(ctx context.Context, localDebug bool, key mapping.Key) ([]HistoryEntry, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	rows, err := t.db.QueryContext(ctx, `
		SELECT from_state, to_state, detail, recorded_at
		FROM key_history
		WHERE original_state = ? AND original_district = ?
		ORDER BY history_id
	`, key.State, key.District)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var from, to, at string
		if err := rows.Scan(&from, &to, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.From, e.To = State(from), State(to)
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		history = append(history, e)
	}
	debug.DebugOutput(localDebug, "Found %d history entries for %s", len(history), key)
	return history, rows.Err()
}

// Counts returns how many keys sit in each state
func (t *Tracker) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM key_state GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count lifecycle states: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[State(s)] = n
	}
	return counts, rows.Err()
}
