package review

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afi-canon/internal/mapping"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS review_item (
	item_id               TEXT PRIMARY KEY,
	original_state        TEXT NOT NULL,
	original_district     TEXT NOT NULL,
	canonical_state       TEXT NOT NULL DEFAULT '',
	canonical_district    TEXT NOT NULL DEFAULT '',
	suggested_state       TEXT NOT NULL DEFAULT '',
	suggested_district    TEXT NOT NULL DEFAULT '',
	suggestion_confidence TEXT NOT NULL DEFAULT '',
	tier                  INTEGER NOT NULL,
	source                TEXT NOT NULL DEFAULT '',
	note                  TEXT NOT NULL DEFAULT '',
	fuzzy_ratio           REAL NOT NULL DEFAULT 0,
	token_overlap         REAL NOT NULL DEFAULT 0,
	reasons               TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'pending',
	decided_state         TEXT NOT NULL DEFAULT '',
	decided_district      TEXT NOT NULL DEFAULT '',
	reviewer              TEXT NOT NULL DEFAULT '',
	notes                 TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	reviewed_at           TEXT NOT NULL DEFAULT '',
	UNIQUE (original_state, original_district)
);
CREATE INDEX IF NOT EXISTS idx_review_item_status ON review_item(status);
`

// SQLiteQueue keeps the review queue in the mapping store database so
// decisions survive between runs.
type SQLiteQueue struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteQueue creates the queue table on db if needed.
func NewSQLiteQueue(ctx context.Context, db *sql.DB) (*SQLiteQueue, error) {
	if _, err := db.ExecContext(ctx, queueSchema); err != nil {
		return nil, fmt.Errorf("failed to create review queue schema: %w", err)
	}
	return &SQLiteQueue{db: db}, nil
}

func (q *SQLiteQueue) Push(ctx context.Context, items ...Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_item (
			item_id, original_state, original_district, canonical_state, canonical_district,
			suggested_state, suggested_district, suggestion_confidence, tier, source, note,
			fuzzy_ratio, token_overlap, reasons, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (original_state, original_district) DO UPDATE SET
			canonical_state = excluded.canonical_state,
			canonical_district = excluded.canonical_district,
			suggested_state = excluded.suggested_state,
			suggested_district = excluded.suggested_district,
			suggestion_confidence = excluded.suggestion_confidence,
			tier = excluded.tier,
			source = excluded.source,
			note = excluded.note,
			fuzzy_ratio = excluded.fuzzy_ratio,
			token_overlap = excluded.token_overlap,
			reasons = excluded.reasons
		WHERE review_item.status = 'pending'
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare review insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if it.ID == "" {
			it.ID = ulid.Make().String()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = time.Now().UTC()
		}
		r := it.Record
		if _, err := stmt.ExecContext(ctx,
			it.ID, r.Key.State, r.Key.District, r.CanonicalState, r.CanonicalDistrict,
			r.SuggestedState, r.SuggestedDistrict, r.SuggestionConfidence, int(r.Tier), string(r.Source), r.Note,
			it.Ratio, it.Overlap, strings.Join(it.Reasons, ";"), it.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("failed to queue %s: %w", r.Key, err)
		}
	}
	return tx.Commit()
}

func (q *SQLiteQueue) Pending(ctx context.Context, limit int) ([]Item, error) {
	query := selectItems + ` WHERE status = 'pending' ORDER BY rowid`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return q.query(ctx, query, args...)
}

func (q *SQLiteQueue) Resolve(ctx context.Context, id string, res Resolution) error {
	status, err := statusFor(res.Outcome)
	if err != nil {
		return err
	}
	if res.At.IsZero() {
		res.At = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	result, err := q.db.ExecContext(ctx, `
		UPDATE review_item
		SET status = ?, decided_state = ?, decided_district = ?, reviewer = ?, notes = ?, reviewed_at = ?
		WHERE item_id = ?
	`, string(status), res.CanonicalState, res.CanonicalDistrict, res.Reviewer, res.Notes,
		res.At.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to resolve review item %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return nil
}

func (q *SQLiteQueue) Resolved(ctx context.Context) ([]Item, error) {
	return q.query(ctx, selectItems+` WHERE status != 'pending' ORDER BY original_state, original_district`)
}

// Counts returns the number of items per status.
func (q *SQLiteQueue) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM review_item GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count review items: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

const selectItems = `
	SELECT item_id, original_state, original_district, canonical_state, canonical_district,
		suggested_state, suggested_district, suggestion_confidence, tier, source, note,
		fuzzy_ratio, token_overlap, reasons, status, decided_state, decided_district,
		reviewer, notes, created_at, reviewed_at
	FROM review_item`

func (q *SQLiteQueue) query(ctx context.Context, query string, args ...interface{}) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var state, district, source, reasons, status, created, reviewed string
		var tier int
		r := &it.Record
		if err := rows.Scan(
			&it.ID, &state, &district, &r.CanonicalState, &r.CanonicalDistrict,
			&r.SuggestedState, &r.SuggestedDistrict, &r.SuggestionConfidence, &tier, &source, &r.Note,
			&it.Ratio, &it.Overlap, &reasons, &status,
			&it.Resolution.CanonicalState, &it.Resolution.CanonicalDistrict,
			&it.Resolution.Reviewer, &it.Resolution.Notes, &created, &reviewed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}
		r.Key = mapping.Key{State: state, District: district}
		r.Tier = mapping.Tier(tier)
		r.Source = mapping.Source(source)
		if reasons != "" {
			it.Reasons = strings.Split(reasons, ";")
		}
		it.Status = Status(status)
		switch it.Status {
		case StatusAccepted:
			it.Resolution.Outcome = OutcomeAccept
		case StatusRejected:
			it.Resolution.Outcome = OutcomeReject
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if reviewed != "" {
			it.Resolution.At, _ = time.Parse(time.RFC3339Nano, reviewed)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
