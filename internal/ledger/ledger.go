// Package ledger records every value overwritten outside the cluster and
// score pipeline so individual overrides can be undone later.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sources of ledgered overrides
const (
	SourceManual      = "manual"
	SourceAccepted    = "accepted"
	SourceStateManual = "state_manual"
	SourceStateFuzzy  = "state_fuzzy"
	SourceRemap       = "remap"
	SourceRevert      = "revert"
)

// Columns is the on-disk column order.
var Columns = []string{"id", "from", "to", "dataset", "timestamp", "column", "key_state", "key_district", "source"}

// Entry is one overwrite of Column from From to To for rows matching the key.
// KeyDistrict may be empty for state-level overrides.
type Entry struct {
	ID          string
	Dataset     string
	Column      string
	KeyState    string
	KeyDistrict string
	From        string
	To          string
	Source      string
	Timestamp   time.Time
}

func (e Entry) dedupKey() string {
	return strings.Join([]string{e.Dataset, e.Column, e.KeyState, e.KeyDistrict, e.From, e.To, e.Source}, "\x1f")
}

// Ledger is an append-only CSV file. Appends are serialized.
type Ledger struct {
	path string
	mu   sync.Mutex
	seen map[string]bool
	now  func() time.Time
}

// Open returns a ledger backed by path. The file is created on first append.
func Open(path string) *Ledger {
	return &Ledger{path: path, seen: make(map[string]bool), now: time.Now}
}

// Path is the backing file.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes entries, skipping any identical entry already appended by
// this Ledger value. Missing IDs and timestamps are filled in.
func (l *Ledger) Append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	_, statErr := os.Stat(l.path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger %s: %w", l.path, err)
	}
	cw := csv.NewWriter(f)
	if fresh {
		if err := cw.Write(Columns); err != nil {
			f.Close()
			return fmt.Errorf("failed to write ledger header: %w", err)
		}
	}

	for _, e := range entries {
		k := e.dedupKey()
		if l.seen[k] {
			continue
		}
		l.seen[k] = true
		if e.ID == "" {
			e.ID = ulid.Make().String()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = l.now().UTC()
		}
		if err := cw.Write([]string{
			e.ID, e.From, e.To, e.Dataset, e.Timestamp.Format(time.RFC3339),
			e.Column, e.KeyState, e.KeyDistrict, e.Source,
		}); err != nil {
			f.Close()
			return fmt.Errorf("failed to write ledger entry: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush ledger: %w", err)
	}
	return f.Close()
}

// Entries reads the whole ledger. A missing file is an empty ledger.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", l.path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses ledger CSV from r. Columns are matched by name.
func Read(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, c := range []string{"from", "to"} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("ledger is missing column %q", c)
		}
	}

	var out []Entry
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger: %w", err)
		}
		get := func(c string) string {
			if i, ok := idx[c]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		e := Entry{
			ID:          get("id"),
			From:        get("from"),
			To:          get("to"),
			Dataset:     get("dataset"),
			Column:      get("column"),
			KeyState:    get("key_state"),
			KeyDistrict: get("key_district"),
			Source:      get("source"),
		}
		if ts := get("timestamp"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				e.Timestamp = t
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// Filter returns the entries for which keep is true.
func Filter(entries []Entry, keep func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// ByDataset keeps entries recorded against dataset.
func ByDataset(dataset string) func(Entry) bool {
	return func(e Entry) bool { return e.Dataset == dataset }
}

// BySource keeps entries from any of sources.
func BySource(sources ...string) func(Entry) bool {
	return func(e Entry) bool {
		for _, s := range sources {
			if e.Source == s {
				return true
			}
		}
		return false
	}
}

// ByIDs keeps entries whose ID is listed.
func ByIDs(ids ...string) func(Entry) bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(e Entry) bool { return set[e.ID] }
}
