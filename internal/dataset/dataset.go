// Package dataset reads and writes the delimited tabular files that flow
// through canonicalization: header row, one record per line.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingInput is returned when an input file does not exist
	ErrMissingInput = errors.New("missing input file")
	// ErrMissingColumns is returned when a file lacks a required column
	ErrMissingColumns = errors.New("missing required columns")
	// ErrExtraFields is returned for a row with more fields than the header
	ErrExtraFields = errors.New("more fields than header")
)

// Column names shared by every dataset
const (
	ColState                = "state"
	ColDistrict             = "district"
	ColStateClean           = "state_clean"
	ColDistrictClean        = "district_clean"
	ColStateCanonical       = "state_canonical"
	ColStateCanonicalSource = "state_canonical_source"
	ColPincode              = "pincode"
	ColDate                 = "date"
)

// Reader streams rows from a CSV source in fixed-size chunks.
type Reader struct {
	cr     *csv.Reader
	header []string
	index  map[string]int
	line   int
}

// NewReader reads the header row. An empty source is an error.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file has no header", ErrMissingColumns)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	return &Reader{cr: cr, header: header, index: idx, line: 1}, nil
}

// Header returns the column names.
func (r *Reader) Header() []string {
	return r.header
}

// Index returns the position of col, or -1.
func (r *Reader) Index(col string) int {
	if i, ok := r.index[col]; ok {
		return i
	}
	return -1
}

// Require fails with ErrMissingColumns naming every absent column.
func (r *Reader) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if r.Index(c) < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// ReadChunk returns up to n rows. Short rows are padded to the header width;
// a row wider than the header is an error naming its line.
// It returns io.EOF only when no rows remain.
func (r *Reader) ReadChunk(n int) ([][]string, error) {
	rows := make([][]string, 0, n)
	for len(rows) < n {
		row, err := r.cr.Read()
		if err == io.EOF {
			break
		}
		r.line++
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", r.line, err)
		}
		if len(row) > len(r.header) {
			return nil, fmt.Errorf("line %d: %w (%d > %d)", r.line, ErrExtraFields, len(row), len(r.header))
		}
		for len(row) < len(r.header) {
			row = append(row, "")
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	return rows, nil
}

// Each calls fn for every row until the source is exhausted.
func (r *Reader) Each(chunk int, fn func(row []string) error) error {
	for {
		rows, err := r.ReadChunk(chunk)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
	}
}

// Get returns the trimmed value of col in row, or "".
func (r *Reader) Get(row []string, col string) string {
	if i := r.Index(col); i >= 0 && i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

// Layout describes the output columns: the input header with any missing
// derived columns appended. Existing derived columns are rewritten in place.
type Layout struct {
	Header []string
	index  map[string]int
}

// NewLayout extends header with extra columns it does not already contain.
func NewLayout(header []string, extra ...string) *Layout {
	out := make([]string, len(header), len(header)+len(extra))
	copy(out, header)
	idx := make(map[string]int, len(out))
	for i, h := range out {
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for _, c := range extra {
		if _, ok := idx[c]; !ok {
			idx[c] = len(out)
			out = append(out, c)
		}
	}
	return &Layout{Header: out, index: idx}
}

// Index returns the output position of col, or -1.
func (l *Layout) Index(col string) int {
	if i, ok := l.index[col]; ok {
		return i
	}
	return -1
}

// Extend widens an input row to the output width. Rows are never cut.
func (l *Layout) Extend(row []string) []string {
	if len(row) >= len(l.Header) {
		return row
	}
	out := make([]string, len(l.Header))
	copy(out, row)
	return out
}

// Writer appends rows to a CSV sink.
type Writer struct {
	cw *csv.Writer
}

// NewWriter writes header immediately.
func NewWriter(w io.Writer, header []string) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return &Writer{cw: cw}, nil
}

// WriteChunk appends rows and flushes so each chunk reaches the sink whole.
func (w *Writer) WriteChunk(rows [][]string) error {
	if err := w.cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// Open opens an input file, mapping a missing file to ErrMissingInput.
func Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// AtomicFile is written under a temporary name next to the target and only
// renamed into place by Commit.
type AtomicFile struct {
	*os.File
	target string
	done   bool
}

// CreateAtomic creates the temporary file for target.
func CreateAtomic(target string) (*AtomicFile, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", target, err)
	}
	return &AtomicFile{File: f, target: target}, nil
}

// Commit closes the temp file and renames it over the target.
func (a *AtomicFile) Commit() error {
	if a.done {
		return nil
	}
	a.done = true
	if err := a.File.Close(); err != nil {
		os.Remove(a.File.Name())
		return fmt.Errorf("failed to close %s: %w", a.File.Name(), err)
	}
	if err := os.Rename(a.File.Name(), a.target); err != nil {
		os.Remove(a.File.Name())
		return fmt.Errorf("failed to publish %s: %w", a.target, err)
	}
	return nil
}

// Abort discards the temp file. Safe to call after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.File.Close()
	os.Remove(a.File.Name())
}

// CoerceNumber returns s when it parses as a number, "" for blanks and "0"
// otherwise. ok is false when s was replaced.
func CoerceNumber(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", true
	}
	if _, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64); err == nil {
		return s, true
	}
	return "0", false
}

// ParseDate accepts the day-first formats found in the source extracts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	formats := []string{
		"02-01-2006",
		"2-1-2006",
		"02/01/2006",
		"2/1/2006",
		"2006-01-02",
		"02/01/06",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
