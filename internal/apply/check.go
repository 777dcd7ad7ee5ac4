package apply

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/afi-canon/internal/dataset"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// topChangeLimit caps the state change pairs kept in a CheckSummary
const topChangeLimit = 200

// StateChange is how many rows moved from one state spelling to another.
type StateChange struct {
	From  string
	To    string
	Count int
}

// CheckSummary is the sanity report for one canonicalized dataset.
type CheckSummary struct {
	Dataset         string
	Rows            int
	UniqueStates    int
	UniqueCanonical int
	EmptyCanonical  int
	ChangedRows     int
	PctChanged      float64
	BadPincodes     int
	MissingCells    map[string]int
	FirstDate       time.Time
	LastDate        time.Time
	TopChanges      []StateChange
}

// Check streams a canonicalized dataset and summarises it. The canonical
// state column is state_canonical when present, otherwise state_clean. A
// row counts as changed when its state or district differs from the
// canonical value after trimming.
func Check(ctx context.Context, r io.Reader, name string, chunk int) (*CheckSummary, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	in, err := dataset.NewReader(r)
	if err != nil {
		return nil, err
	}
	if err := in.Require(dataset.ColState); err != nil {
		return nil, err
	}

	canonCol := dataset.ColStateCanonical
	if in.Index(canonCol) < 0 {
		canonCol = dataset.ColStateClean
	}
	hasCanon := in.Index(canonCol) >= 0
	hasDistrict := in.Index(dataset.ColDistrict) >= 0 && in.Index(dataset.ColDistrictClean) >= 0
	hasPincode := in.Index(dataset.ColPincode) >= 0
	hasDate := in.Index(dataset.ColDate) >= 0

	sum := &CheckSummary{Dataset: name, MissingCells: make(map[string]int)}
	states := make(map[string]bool)
	canon := make(map[string]bool)
	changes := make(map[[2]string]int)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := in.ReadChunk(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			sum.Rows++
			state := in.Get(row, dataset.ColState)
			if state != "" {
				states[state] = true
			}
			for _, col := range []string{dataset.ColState, dataset.ColDistrict, dataset.ColPincode, dataset.ColDate} {
				if in.Index(col) >= 0 && in.Get(row, col) == "" {
					sum.MissingCells[col]++
				}
			}

			changed := false
			if hasCanon {
				c := in.Get(row, canonCol)
				if c == "" {
					sum.EmptyCanonical++
				} else {
					canon[c] = true
				}
				if state != c {
					changed = true
					changes[[2]string{state, c}]++
				}
			}
			if hasDistrict && in.Get(row, dataset.ColDistrict) != in.Get(row, dataset.ColDistrictClean) {
				changed = true
			}
			if changed {
				sum.ChangedRows++
			}

			if hasPincode && !normalize.ValidPincode(in.Get(row, dataset.ColPincode)) {
				sum.BadPincodes++
			}
			if hasDate {
				if d, ok := dataset.ParseDate(in.Get(row, dataset.ColDate)); ok {
					if sum.FirstDate.IsZero() || d.Before(sum.FirstDate) {
						sum.FirstDate = d
					}
					if d.After(sum.LastDate) {
						sum.LastDate = d
					}
				}
			}
		}
	}

	sum.UniqueStates = len(states)
	sum.UniqueCanonical = len(canon)
	if sum.Rows > 0 {
		sum.PctChanged = float64(sum.ChangedRows) / float64(sum.Rows) * 100
	}
	for pair, n := range changes {
		sum.TopChanges = append(sum.TopChanges, StateChange{From: pair[0], To: pair[1], Count: n})
	}
	sort.Slice(sum.TopChanges, func(i, j int) bool {
		a, b := sum.TopChanges[i], sum.TopChanges[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	if len(sum.TopChanges) > topChangeLimit {
		sum.TopChanges = sum.TopChanges[:topChangeLimit]
	}
	return sum, nil
}

// CheckFile runs Check on path.
func CheckFile(ctx context.Context, path, name string, chunk int) (*CheckSummary, error) {
	f, err := dataset.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sum, err := Check(ctx, f, name, chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", path, err)
	}
	return sum, nil
}

// PairChange groups rows whose original (state, district) was rewritten to
// the same clean pair.
type PairChange struct {
	Original mapping.Key
	Clean    mapping.Key
	Rows     int
	Weight   float64
}

// TopChanges groups every changed row of a canonicalized dataset by
// original and clean pair, weighted by the sum of weightColumns (row count
// when none are present), heaviest first. limit <= 0 keeps all groups.
func TopChanges(ctx context.Context, r io.Reader, weightColumns []string, limit, chunk int) ([]PairChange, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	in, err := dataset.NewReader(r)
	if err != nil {
		return nil, err
	}
	if err := in.Require(dataset.ColState, dataset.ColDistrict, dataset.ColStateClean, dataset.ColDistrictClean); err != nil {
		return nil, err
	}
	var weights []string
	for _, c := range weightColumns {
		if in.Index(c) >= 0 {
			weights = append(weights, c)
		}
	}

	groups := make(map[[2]mapping.Key]*PairChange)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := in.ReadChunk(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			orig := mapping.NewKey(in.Get(row, dataset.ColState), in.Get(row, dataset.ColDistrict))
			clean := mapping.NewKey(in.Get(row, dataset.ColStateClean), in.Get(row, dataset.ColDistrictClean))
			if orig == clean {
				continue
			}
			g, ok := groups[[2]mapping.Key{orig, clean}]
			if !ok {
				g = &PairChange{Original: orig, Clean: clean}
				groups[[2]mapping.Key{orig, clean}] = g
			}
			g.Rows++
			if len(weights) == 0 {
				g.Weight++
				continue
			}
			for _, c := range weights {
				v, err := strconv.ParseFloat(strings.ReplaceAll(in.Get(row, c), ",", ""), 64)
				if err == nil {
					g.Weight += v
				}
			}
		}
	}

	out := make([]PairChange, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].Original != out[j].Original {
			return out[i].Original.Less(out[j].Original)
		}
		return out[i].Clean.Less(out[j].Clean)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TopChangesFile runs TopChanges on path.
func TopChangesFile(ctx context.Context, path string, weightColumns []string, limit, chunk int) ([]PairChange, error) {
	f, err := dataset.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return TopChanges(ctx, f, weightColumns, limit, chunk)
}

// RevertRecords pins every changed pair back to its original spelling. The
// result is meant for the reverted layer.
func RevertRecords(changes []PairChange) []mapping.Record {
	out := make([]mapping.Record, 0, len(changes))
	seen := make(map[mapping.Key]bool, len(changes))
	for _, c := range changes {
		if seen[c.Original] || c.Original.State == "" || c.Original.District == "" {
			continue
		}
		seen[c.Original] = true
		out = append(out, mapping.Record{
			Key:               c.Original,
			CanonicalState:    c.Original.State,
			CanonicalDistrict: c.Original.District,
			Tier:              mapping.TierHigh,
			Source:            mapping.SourceReverted,
			Note:              fmt.Sprintf("reverted %s", c.Clean),
		})
	}
	return out
}

// DryRunResult describes what Apply would do without writing anything.
type DryRunResult struct {
	Rows        int
	Keys        int
	AppliedKeys int
	AppliedRows int
	Unresolved  map[mapping.Key]int
}

// DryRun resolves every key of a dataset against store and counts how many
// keys and rows would receive canonical names.
func DryRun(ctx context.Context, r io.Reader, store *mapping.Store, tiers map[mapping.Tier]bool, chunk int) (*DryRunResult, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	in, err := dataset.NewReader(r)
	if err != nil {
		return nil, err
	}
	if err := in.Require(dataset.ColState, dataset.ColDistrict); err != nil {
		return nil, err
	}

	res := &DryRunResult{Unresolved: make(map[mapping.Key]int)}
	keys := make(map[mapping.Key]bool)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := in.ReadChunk(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			res.Rows++
			key := mapping.NewKey(in.Get(row, dataset.ColState), in.Get(row, dataset.ColDistrict))
			applied, known := keys[key]
			if !known {
				_, applied = store.Resolve(key, tiers, "")
				keys[key] = applied
				if applied {
					res.AppliedKeys++
				}
			}
			if applied {
				res.AppliedRows++
			} else {
				res.Unresolved[key]++
			}
		}
	}
	res.Keys = len(keys)
	return res, nil
}

// StateCounts counts the values of column, the input to SuggestStates.
func StateCounts(ctx context.Context, r io.Reader, column string, chunk int) (map[string]int, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	in, err := dataset.NewReader(r)
	if err != nil {
		return nil, err
	}
	if err := in.Require(column); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	err = in.Each(chunk, func(row []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		counts[in.Get(row, column)]++
		return nil
	})
	return counts, err
}
