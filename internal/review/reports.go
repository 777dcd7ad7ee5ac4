package review

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/afi-canon/internal/mapping"
)

// ErrMissingColumns is returned when a decisions file lacks a key column
var ErrMissingColumns = errors.New("decisions file missing required columns")

// WriteSuspicionReport writes every verdict with its diagnostics.
func WriteSuspicionReport(w io.Writer, verdicts []Verdict) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"original_state", "original_district", "suggested_district", "canonical_suggestion",
		"suggestion_confidence", "fuzzy_ratio", "token_overlap", "flag_for_manual_review", "reasons",
	}); err != nil {
		return err
	}
	for _, v := range verdicts {
		r := v.Record
		if err := cw.Write([]string{
			r.Key.State, r.Key.District, r.SuggestedDistrict, r.CanonicalDistrict,
			confidenceLabel(r), formatScore(v.Diagnosis.Ratio), formatOverlap(v.Diagnosis.Overlap),
			strconv.FormatBool(v.Flag), strings.Join(v.Reasons, ";"),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEscalationReport writes every escalation decision.
func WriteEscalationReport(w io.Writer, decisions []Decision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"original_state", "original_district", "suggested_district", "canonical_suggestion",
		"suggestion_confidence", "fuzzy_ratio", "token_overlap", "action", "reason",
	}); err != nil {
		return err
	}
	for _, d := range decisions {
		r := d.Record
		if err := cw.Write([]string{
			r.Key.State, r.Key.District, r.SuggestedDistrict, r.CanonicalDistrict,
			confidenceLabel(r), formatScore(d.Diagnosis.Ratio), formatOverlap(d.Diagnosis.Overlap),
			string(d.Action), strings.Join(d.Reasons, ";"),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteQueue writes items in the decisions file layout, so a human can
// fill in the action column and feed it back through ReadDecisions.
func WriteQueue(w io.Writer, items []Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"original_state", "original_district", "canonical_state", "canonical_district",
		"fuzzy_ratio", "token_overlap", "reasons", "status", "action", "notes",
	}); err != nil {
		return err
	}
	for _, it := range items {
		state, district := it.Canonical()
		action := ""
		switch it.Status {
		case StatusAccepted:
			action = string(OutcomeAccept)
		case StatusRejected:
			action = string(OutcomeReject)
		}
		if err := cw.Write([]string{
			it.Record.Key.State, it.Record.Key.District, state, district,
			formatScore(it.Ratio), formatOverlap(it.Overlap), strings.Join(it.Reasons, ";"),
			string(it.Status), action, it.Resolution.Notes,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadDecisions parses a decisions file. original_state, original_district
// and action are required; canonical_state, canonical_district and notes
// are optional. Rows with a blank action are ignored.
func ReadDecisions(r io.Reader) ([]FileDecision, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decisions header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range []string{"original_state", "original_district", "action"} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumns, c)
		}
	}
	get := func(row []string, col string) string {
		if i, ok := idx[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var out []FileDecision
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read decisions: %w", err)
		}
		if get(row, "action") == "" {
			continue
		}
		out = append(out, FileDecision{
			Key:               mapping.NewKey(get(row, "original_state"), get(row, "original_district")),
			Action:            get(row, "action"),
			CanonicalState:    get(row, "canonical_state"),
			CanonicalDistrict: get(row, "canonical_district"),
			Notes:             get(row, "notes"),
		})
	}
	return out, nil
}

func confidenceLabel(r mapping.Record) string {
	if r.SuggestionConfidence != "" {
		return r.SuggestionConfidence
	}
	return string(mapping.AutoSource(r.Tier))
}

func formatOverlap(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
