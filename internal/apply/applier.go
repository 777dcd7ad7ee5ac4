// Package apply rewrites datasets with canonical names from a merged mapping
// store, streaming fixed-size chunks so memory stays bounded by the chunk.
package apply

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/afi-canon/internal/dataset"
	"github.com/afi-canon/internal/debug"
	"github.com/afi-canon/internal/ledger"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// Re-exported so callers can match on errors.Is without importing dataset
var (
	ErrMissingInput   = dataset.ErrMissingInput
	ErrMissingColumns = dataset.ErrMissingColumns
)

// DefaultChunkSize is used when Applier.ChunkSize is unset
const DefaultChunkSize = 500000

// Applier rewrites the clean columns of a dataset. The Store is read-only
// during a run, so one Applier may serve several datasets concurrently as
// long as each call has its own Dataset name.
type Applier struct {
	Store          *mapping.Store
	ApplyTiers     map[mapping.Tier]bool
	ChunkSize      int
	EmptyValue     string
	States         *StateResolver // nil skips the state_canonical columns
	NumericColumns []string
	Pincodes       bool // normalize the pincode column when present
	Ledger         *ledger.Ledger
	Dataset        string
	Logger         *slog.Logger
}

// Result summarises one apply run.
type Result struct {
	Dataset      string
	RowsIn       int
	RowsOut      int
	Chunks       int
	Applied      int
	FallbackRows int
	CoercedCells int
	Unresolved   map[mapping.Key]int
	StateSources map[string]int
	Overrides    []ledger.Entry
	Duration     time.Duration
}

type resolution struct {
	state, district string
	applied         bool
	source          mapping.Source
	fallback        mapping.Record
}

// Apply streams r to w. Rows whose key resolves to a record in one of the
// apply tiers get its canonical names; every other row falls back to its
// title-cased original and its key is reported as unresolved. Existing
// derived columns are rewritten in place, so applying to its own output
// reproduces it byte for byte.
func (a *Applier) Apply(ctx context.Context, r io.Reader, w io.Writer) (*Result, error) {
	return a.ApplyDebug(ctx, false, r, w)
}

// ApplyDebug is Apply with optional debug output
func (a *Applier) ApplyDebug(ctx context.Context, localDebug bool, r io.Reader, w io.Writer) (*Result, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	start := time.Now()
	res := &Result{
		Dataset:      a.Dataset,
		Unresolved:   make(map[mapping.Key]int),
		StateSources: make(map[string]int),
	}

	in, err := dataset.NewReader(r)
	if err != nil {
		return res, err
	}
	if err := in.Require(dataset.ColState, dataset.ColDistrict); err != nil {
		return res, err
	}

	extra := []string{dataset.ColStateClean, dataset.ColDistrictClean}
	if a.States != nil {
		extra = append(extra, dataset.ColStateCanonical, dataset.ColStateCanonicalSource)
	}
	layout := dataset.NewLayout(in.Header(), extra...)
	out, err := dataset.NewWriter(w, layout.Header)
	if err != nil {
		return res, err
	}

	cols := a.columns(in, layout)
	chunkSize := a.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	overrides := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := in.ReadChunk(chunkSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		res.Chunks++
		res.RowsIn += len(rows)

		resolved := a.resolveChunk(rows, cols)
		for i, row := range rows {
			row = layout.Extend(row)
			key := mapping.NewKey(row[cols.state], row[cols.district])
			rv := resolved[key]
			row[cols.stateClean] = rv.state
			row[cols.districtClean] = rv.district
			if rv.applied {
				res.Applied++
				for _, e := range a.reviewedOverrides(key, rv) {
					if k := e.Column + "\x1f" + e.KeyState + "\x1f" + e.KeyDistrict; !overrides[k] {
						overrides[k] = true
						res.Overrides = append(res.Overrides, e)
					}
				}
			} else {
				res.FallbackRows++
				res.Unresolved[key]++
			}

			if a.States != nil {
				m := a.States.Resolve(rv.state)
				row[cols.stateCanonical] = m.Canonical
				row[cols.stateCanonicalSource] = m.Source
				res.StateSources[m.Source]++
				if (m.Source == StateManualMap || m.Source == StateFuzzyAuto) && m.Canonical != rv.state {
					e := ledger.Entry{
						Dataset:  a.Dataset,
						Column:   dataset.ColStateCanonical,
						KeyState: key.State,
						From:     rv.state,
						To:       m.Canonical,
						Source:   stateLedgerSource(m.Source),
					}
					if k := e.KeyState + "\x1f" + e.From + "\x1f" + e.To; !overrides[k] {
						overrides[k] = true
						res.Overrides = append(res.Overrides, e)
					}
				}
			}

			for _, c := range cols.numeric {
				v, ok := dataset.CoerceNumber(row[c])
				if !ok {
					res.CoercedCells++
					if a.Logger != nil {
						a.Logger.Warn("coerced malformed numeric cell",
							"dataset", a.Dataset, "row", res.RowsOut+i+1, "column", in.Header()[c], "value", row[c])
					}
					row[c] = v
				}
			}

			if cols.pincode >= 0 {
				if p, ok := normalize.Pincode(row[cols.pincode]); ok {
					row[cols.pincode] = p
				} else {
					row[cols.pincode] = ""
				}
			}
			rows[i] = row
		}

		if err := out.WriteChunk(rows); err != nil {
			return res, err
		}
		res.RowsOut += len(rows)
		debug.DebugOutput(localDebug, "chunk %d: %d rows, %d keys", res.Chunks, len(rows), len(resolved))
		if a.Logger != nil {
			a.Logger.Debug("chunk written", "dataset", a.Dataset, "chunk", res.Chunks, "rows", len(rows))
		}
	}

	res.Duration = time.Since(start)
	if a.Logger != nil {
		a.Logger.Info("apply complete",
			"dataset", a.Dataset,
			"rows", res.RowsOut,
			"chunks", res.Chunks,
			"applied", res.Applied,
			"fallback", res.FallbackRows,
			"unresolved_keys", len(res.Unresolved),
			"coerced", res.CoercedCells,
			"took", res.Duration)
	}
	return res, nil
}

// ApplyFile applies inPath into outPath. A missing input fails before any
// output exists; the output is written to a temporary file next to outPath
// and renamed into place only after the last chunk. State overrides are
// appended to the ledger once the output is published, together with every
// clean cell rewritten by a manual or accepted mapping.
func (a *Applier) ApplyFile(ctx context.Context, inPath, outPath string) (*Result, error) {
	f, err := dataset.Open(inPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tmp, err := dataset.CreateAtomic(outPath)
	if err != nil {
		return nil, err
	}
	defer tmp.Abort()

	res, err := a.Apply(ctx, f, tmp)
	if err != nil {
		return res, fmt.Errorf("failed to apply %s: %w", inPath, err)
	}
	if err := tmp.Commit(); err != nil {
		return res, err
	}
	if a.Ledger != nil && len(res.Overrides) > 0 {
		if err := a.Ledger.Append(res.Overrides...); err != nil {
			return res, fmt.Errorf("failed to record state overrides: %w", err)
		}
	}
	return res, nil
}

type columnSet struct {
	state, district           int
	stateClean, districtClean int
	stateCanonical            int
	stateCanonicalSource      int
	pincode                   int
	numeric                   []int
}

func (a *Applier) columns(in *dataset.Reader, layout *dataset.Layout) columnSet {
	cols := columnSet{
		state:                in.Index(dataset.ColState),
		district:             in.Index(dataset.ColDistrict),
		stateClean:           layout.Index(dataset.ColStateClean),
		districtClean:        layout.Index(dataset.ColDistrictClean),
		stateCanonical:       layout.Index(dataset.ColStateCanonical),
		stateCanonicalSource: layout.Index(dataset.ColStateCanonicalSource),
		pincode:              -1,
	}
	if a.Pincodes {
		cols.pincode = in.Index(dataset.ColPincode)
	}
	for _, c := range a.NumericColumns {
		if i := in.Index(c); i >= 0 {
			cols.numeric = append(cols.numeric, i)
		}
	}
	return cols
}

// resolveChunk looks up every distinct key of a chunk once.
func (a *Applier) resolveChunk(rows [][]string, cols columnSet) map[mapping.Key]resolution {
	out := make(map[mapping.Key]resolution)
	for _, row := range rows {
		key := mapping.NewKey(row[cols.state], row[cols.district])
		if _, ok := out[key]; ok {
			continue
		}
		fallback := mapping.Fallback(key, a.EmptyValue)
		rec, applied := fallback, false
		if a.Store != nil {
			rec, applied = a.Store.Resolve(key, a.ApplyTiers, a.EmptyValue)
		}
		out[key] = resolution{
			state:    rec.CanonicalState,
			district: rec.CanonicalDistrict,
			applied:  applied,
			source:   rec.Source,
			fallback: fallback,
		}
	}
	return out
}

// reviewedOverrides returns the ledger entries for clean cells that a
// manual or accepted mapping moved away from the title-cased original.
func (a *Applier) reviewedOverrides(key mapping.Key, rv resolution) []ledger.Entry {
	var source string
	switch rv.source {
	case mapping.SourceManual:
		source = ledger.SourceManual
	case mapping.SourceAccepted:
		source = ledger.SourceAccepted
	default:
		return nil
	}

	var out []ledger.Entry
	add := func(column, from, to string) {
		if from == to {
			return
		}
		out = append(out, ledger.Entry{
			Dataset:     a.Dataset,
			Column:      column,
			KeyState:    key.State,
			KeyDistrict: key.District,
			From:        from,
			To:          to,
			Source:      source,
		})
	}
	add(dataset.ColStateClean, rv.fallback.CanonicalState, rv.state)
	add(dataset.ColDistrictClean, rv.fallback.CanonicalDistrict, rv.district)
	return out
}

func stateLedgerSource(src string) string {
	if src == StateFuzzyAuto {
		return ledger.SourceStateFuzzy
	}
	return ledger.SourceStateManual
}
