package apply

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/afi-canon/internal/dataset"
	"github.com/afi-canon/internal/fuzzy"
	"github.com/afi-canon/internal/mapping"
)

// WriteUnresolved lists every key that fell back, with whatever the store
// knows about it, most frequent first.
func WriteUnresolved(w io.Writer, store *mapping.Store, unresolved map[mapping.Key]int) error {
	keys := make([]mapping.Key, 0, len(unresolved))
	for k := range unresolved {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if unresolved[keys[i]] != unresolved[keys[j]] {
			return unresolved[keys[i]] > unresolved[keys[j]]
		}
		return keys[i].Less(keys[j])
	})

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		var rec mapping.Record
		if store != nil {
			rec, _ = store.Lookup(k)
		}
		tier, source := "", ""
		if rec.Source != "" {
			tier, source = rec.Tier.String(), string(rec.Source)
		}
		rows = append(rows, []string{
			k.State, k.District,
			rec.CanonicalState, rec.CanonicalDistrict,
			rec.SuggestedState, rec.SuggestedDistrict,
			tier, source, rec.Note,
			strconv.Itoa(unresolved[k]),
		})
	}
	return writeCSV(w, []string{
		"original_state", "original_district", "canonical_state", "canonical_district",
		"suggested_state", "suggested_district", "confidence", "source", "notes", "rows",
	}, rows)
}

// WriteCheckSummaries writes one line per dataset summary.
func WriteCheckSummaries(w io.Writer, sums []*CheckSummary) error {
	rows := make([][]string, 0, len(sums))
	for _, s := range sums {
		first, last := "", ""
		if !s.FirstDate.IsZero() {
			first, last = s.FirstDate.Format("2006-01-02"), s.LastDate.Format("2006-01-02")
		}
		rows = append(rows, []string{
			s.Dataset,
			strconv.Itoa(s.Rows),
			strconv.Itoa(s.UniqueStates),
			strconv.Itoa(s.UniqueCanonical),
			strconv.Itoa(s.EmptyCanonical),
			strconv.Itoa(s.ChangedRows),
			strconv.FormatFloat(fuzzy.Round(s.PctChanged, 3), 'f', -1, 64),
			strconv.Itoa(s.BadPincodes),
			first, last,
		})
	}
	return writeCSV(w, []string{
		"dataset", "rows", "state_unique", "state_canonical_unique", "empty_state_canonical_rows",
		"rows_with_state_or_district_changed", "pct_changed", "bad_pincodes", "first_date", "last_date",
	}, rows)
}

// WriteStateChanges writes the state change pairs of a summary.
func WriteStateChanges(w io.Writer, changes []StateChange) error {
	rows := make([][]string, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, []string{c.From + " -> " + c.To, strconv.Itoa(c.Count)})
	}
	return writeCSV(w, []string{"orig_to_canonical", "count"}, rows)
}

// WritePairChanges writes grouped (state, district) rewrites.
func WritePairChanges(w io.Writer, changes []PairChange) error {
	rows := make([][]string, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, []string{
			c.Original.State, c.Original.District,
			c.Clean.State, c.Clean.District,
			strconv.Itoa(c.Rows),
			strconv.FormatFloat(c.Weight, 'f', -1, 64),
		})
	}
	return writeCSV(w, []string{"orig_state", "orig_district", "clean_state", "clean_district", "rows", "weight"}, rows)
}

// WriteStateSuggestions writes non-whitelisted states with their best match.
func WriteStateSuggestions(w io.Writer, suggestions []StateSuggestion) error {
	rows := make([][]string, 0, len(suggestions))
	for _, s := range suggestions {
		rows = append(rows, []string{
			s.Value, strconv.Itoa(s.Count), s.Suggested,
			strconv.FormatFloat(s.Score, 'f', 4, 64),
		})
	}
	return writeCSV(w, []string{"state_value", "count", "suggested_state", "score"}, rows)
}

// WriteReportFile creates path atomically and fills it with write.
func WriteReportFile(path string, write func(io.Writer) error) error {
	f, err := dataset.CreateAtomic(path)
	if err != nil {
		return err
	}
	defer f.Abort()
	if err := write(f); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return f.Commit()
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	return cw.WriteAll(rows)
}
