package ledger

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/afi-canon/internal/dataset"
	"github.com/afi-canon/internal/mapping"
)

// RevertResult counts what a revert touched.
type RevertResult struct {
	Rows     int
	Restored int
	// Applied holds the entries that restored at least one row
	Applied []Entry
}

// Revert streams a dataset from r to w and undoes entries: for each row whose
// state (and district, when the entry names one) matches the entry key and
// whose Column still holds To, Column is set back to From. Later entries are
// undone first so chained overrides unwind to the earliest value. Rows that
// match no entry are copied unchanged.
func Revert(ctx context.Context, r io.Reader, w io.Writer, entries []Entry, chunk int) (RevertResult, error) {
	var res RevertResult
	if chunk <= 0 {
		chunk = 100000
	}

	in, err := dataset.NewReader(r)
	if err != nil {
		return res, err
	}
	if err := in.Require(dataset.ColState); err != nil {
		return res, err
	}
	out, err := dataset.NewWriter(w, in.Header())
	if err != nil {
		return res, err
	}

	type target struct {
		entry Entry
		col   int
		hits  int
	}
	var targets []*target
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		col := in.Index(e.Column)
		if col < 0 {
			continue
		}
		targets = append(targets, &target{entry: e, col: col})
	}

	stateCol, districtCol := in.Index(dataset.ColState), in.Index(dataset.ColDistrict)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := in.ReadChunk(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		for _, row := range rows {
			res.Rows++
			state := strings.TrimSpace(row[stateCol])
			district := ""
			if districtCol >= 0 {
				district = strings.TrimSpace(row[districtCol])
			}
			for _, t := range targets {
				e := t.entry
				if e.KeyState != "" && e.KeyState != state {
					continue
				}
				if e.KeyDistrict != "" && e.KeyDistrict != district {
					continue
				}
				if row[t.col] != e.To {
					continue
				}
				row[t.col] = e.From
				t.hits++
				res.Restored++
			}
		}
		if err := out.WriteChunk(rows); err != nil {
			return res, err
		}
	}

	for i := len(targets) - 1; i >= 0; i-- {
		if targets[i].hits > 0 {
			res.Applied = append(res.Applied, targets[i].entry)
		}
	}
	return res, nil
}

// RevertFile reverts inPath into outPath atomically and appends reverse
// entries for every undone override to l.
func RevertFile(ctx context.Context, l *Ledger, inPath, outPath string, entries []Entry, chunk int) (RevertResult, error) {
	f, err := dataset.Open(inPath)
	if err != nil {
		return RevertResult{}, err
	}
	defer f.Close()

	tmp, err := dataset.CreateAtomic(outPath)
	if err != nil {
		return RevertResult{}, err
	}
	defer tmp.Abort()

	res, err := Revert(ctx, f, tmp, entries, chunk)
	if err != nil {
		return res, fmt.Errorf("failed to revert %s: %w", inPath, err)
	}
	if err := tmp.Commit(); err != nil {
		return res, err
	}

	if l != nil {
		reverse := make([]Entry, 0, len(res.Applied))
		for _, e := range res.Applied {
			reverse = append(reverse, Entry{
				Dataset:     e.Dataset,
				Column:      e.Column,
				KeyState:    e.KeyState,
				KeyDistrict: e.KeyDistrict,
				From:        e.To,
				To:          e.From,
				Source:      SourceRevert,
			})
		}
		if err := l.Append(reverse...); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RevertLayer pins the keys of district-level clean-column entries back to
// their pre-override spelling so rebuilding the store keeps them reverted.
func RevertLayer(entries []Entry) mapping.Layer {
	byKey := make(map[mapping.Key]mapping.Record)
	var order []mapping.Key
	for _, e := range entries {
		if e.KeyDistrict == "" {
			continue
		}
		key := mapping.NewKey(e.KeyState, e.KeyDistrict)
		r, ok := byKey[key]
		if !ok {
			r = mapping.Record{Key: key, Tier: mapping.TierHigh, Note: "reverted " + e.ID}
			order = append(order, key)
		}
		switch e.Column {
		case dataset.ColDistrictClean:
			r.CanonicalDistrict = e.From
		case dataset.ColStateClean:
			r.CanonicalState = e.From
		default:
			continue
		}
		byKey[key] = r
	}

	records := make([]mapping.Record, 0, len(order))
	for _, k := range order {
		if r, ok := byKey[k]; ok && !r.Empty() {
			records = append(records, r)
		}
	}
	return mapping.NewLayer(mapping.SourceReverted, records)
}
