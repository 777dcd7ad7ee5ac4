package mapping

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Version describes one write to a layer.
type Version struct {
	ID        string
	Source    Source
	Records   int
	Digest    string
	CreatedAt time.Time
}

// LayerStore persists layers in an embedded SQLite file. It has a single
// writer; readers may run concurrently with each other.
type LayerStore struct {
	db *sql.DB
	mu sync.Mutex
}

const layerSchema = `
CREATE TABLE IF NOT EXISTS mapping_record (
	source                TEXT NOT NULL,
	original_state        TEXT NOT NULL,
	original_district     TEXT NOT NULL,
	canonical_state       TEXT NOT NULL DEFAULT '',
	canonical_district    TEXT NOT NULL DEFAULT '',
	suggested_state       TEXT NOT NULL DEFAULT '',
	suggested_district    TEXT NOT NULL DEFAULT '',
	suggestion_confidence TEXT NOT NULL DEFAULT '',
	tier                  INTEGER NOT NULL,
	note                  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source, original_state, original_district)
);
CREATE TABLE IF NOT EXISTS layer_version (
	version_id TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	records    INTEGER NOT NULL,
	digest     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_layer_version_source ON layer_version(source);
`

// OpenLayerStore opens (or creates) the store database at path.
func OpenLayerStore(ctx context.Context, path string) (*LayerStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure store: %w", err)
	}
	if _, err := db.ExecContext(ctx, layerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create store schema: %w", err)
	}
	return &LayerStore{db: db}, nil
}

// DB exposes the underlying handle so the review queue and lifecycle tracker
// share one database file.
func (s *LayerStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *LayerStore) Close() error {
	return s.db.Close()
}

// PutLayer replaces every record of layer.Source atomically and records a
// new version. Returns the version ID.
func (s *LayerStore) PutLayer(ctx context.Context, layer Layer) (string, error) {
	if layer.Source.Rank() == len(Priority) {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, layer.Source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mapping_record WHERE source = ?`, string(layer.Source)); err != nil {
		return "", fmt.Errorf("failed to clear layer %s: %w", layer.Source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mapping_record (
			source, original_state, original_district, canonical_state, canonical_district,
			suggested_state, suggested_district, suggestion_confidence, tier, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, original_state, original_district) DO UPDATE SET
			canonical_state = excluded.canonical_state,
			canonical_district = excluded.canonical_district,
			suggested_state = excluded.suggested_state,
			suggested_district = excluded.suggested_district,
			suggestion_confidence = excluded.suggestion_confidence,
			tier = excluded.tier,
			note = excluded.note
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range layer.Records {
		if _, err := stmt.ExecContext(ctx,
			string(layer.Source), r.Key.State, r.Key.District,
			r.CanonicalState, r.CanonicalDistrict,
			r.SuggestedState, r.SuggestedDistrict, r.SuggestionConfidence,
			int(r.Tier), r.Note,
		); err != nil {
			return "", fmt.Errorf("failed to insert %s record %s: %w", layer.Source, r.Key, err)
		}
	}

	versionID := ulid.Make().String()
	digest := Merge(NewLayer(layer.Source, layer.Records)).Digest()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO layer_version (version_id, source, records, digest, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, versionID, string(layer.Source), len(layer.Records), digest, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("failed to record layer version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit layer %s: %w", layer.Source, err)
	}
	return versionID, nil
}

// Layer loads the records of one source, ordered by key.
func (s *LayerStore) Layer(ctx context.Context, source Source) (Layer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT original_state, original_district, canonical_state, canonical_district,
			suggested_state, suggested_district, suggestion_confidence, tier, note
		FROM mapping_record
		WHERE source = ?
		ORDER BY original_state, original_district
	`, string(source))
	if err != nil {
		return Layer{}, fmt.Errorf("failed to query layer %s: %w", source, err)
	}
	defer rows.Close()

	layer := Layer{Source: source}
	for rows.Next() {
		var r Record
		var tier int
		if err := rows.Scan(
			&r.Key.State, &r.Key.District, &r.CanonicalState, &r.CanonicalDistrict,
			&r.SuggestedState, &r.SuggestedDistrict, &r.SuggestionConfidence, &tier, &r.Note,
		); err != nil {
			return Layer{}, fmt.Errorf("failed to scan %s record: %w", source, err)
		}
		r.Tier = Tier(tier)
		r.Source = source
		layer.Records = append(layer.Records, r)
	}
	return layer, rows.Err()
}

// Layers loads every stored layer in priority order. Sources with no
// records are omitted.
func (s *LayerStore) Layers(ctx context.Context) ([]Layer, error) {
	var out []Layer
	for _, src := range Priority {
		layer, err := s.Layer(ctx, src)
		if err != nil {
			return nil, err
		}
		if len(layer.Records) > 0 {
			out = append(out, layer)
		}
	}
	return out, nil
}

// Build merges every stored layer into a read-only Store.
func (s *LayerStore) Build(ctx context.Context) (*Store, error) {
	layers, err := s.Layers(ctx)
	if err != nil {
		return nil, err
	}
	return Merge(layers...), nil
}

// Versions lists layer writes, oldest first.
func (s *LayerStore) Versions(ctx context.Context) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, source, records, digest, created_at
		FROM layer_version
		ORDER BY version_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		var src, created string
		if err := rows.Scan(&v.ID, &src, &v.Records, &v.Digest, &created); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.Source = Source(src)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			v.CreatedAt = t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
