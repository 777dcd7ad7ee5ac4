package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingColumns is returned when a mapping file lacks the key columns
var ErrMissingColumns = errors.New("missing required columns")

// RecordColumns is the column layout of mapping artifacts.
var RecordColumns = []string{
	"original_state",
	"original_district",
	"canonical_state",
	"canonical_district",
	"confidence",
	"notes",
	"suggested_state",
	"suggested_district",
	"suggestion_confidence",
	"source",
}

// ReadRecords parses a mapping CSV. Only original_state and original_district
// are required; rows without a source column take defaultSource.
func ReadRecords(r io.Reader, defaultSource Source) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping header: %w", err)
	}
	idx := columnIndex(header)
	for _, col := range []string{"original_state", "original_district"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumns, col)
		}
	}

	var records []Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read mapping line %d: %w", line, err)
		}
		get := func(col string) string {
			if i, ok := idx[col]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		tier, err := ParseTier(get("confidence"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		src := defaultSource
		if v := get("source"); v != "" {
			if src, err = ParseSource(v); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}

		records = append(records, Record{
			Key:                  NewKey(get("original_state"), get("original_district")),
			CanonicalState:       get("canonical_state"),
			CanonicalDistrict:    get("canonical_district"),
			SuggestedState:       get("suggested_state"),
			SuggestedDistrict:    get("suggested_district"),
			SuggestionConfidence: get("suggestion_confidence"),
			Tier:                 tier,
			Source:               src,
			Note:                 get("notes"),
		})
	}
	return records, nil
}

// WriteRecords writes records in RecordColumns layout.
func WriteRecords(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{
			r.Key.State,
			r.Key.District,
			r.CanonicalState,
			r.CanonicalDistrict,
			r.Tier.String(),
			r.Note,
			r.SuggestedState,
			r.SuggestedDistrict,
			r.SuggestionConfidence,
			string(r.Source),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadRecordsFile opens path and parses it with ReadRecords.
func ReadRecordsFile(path string, defaultSource Source) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping %s: %w", path, err)
	}
	defer f.Close()
	return ReadRecords(f, defaultSource)
}

// WriteRecordsFile writes records to path, creating parent directories.
func WriteRecordsFile(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mapping %s: %w", path, err)
	}
	if err := WriteRecords(f, records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write mapping %s: %w", path, err)
	}
	return f.Close()
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	return idx
}
