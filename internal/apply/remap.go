package apply

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/afi-canon/internal/dataset"
	"github.com/afi-canon/internal/ledger"
	"github.com/afi-canon/internal/mapping"
)

// RemapResult counts the cells a remap rewrote.
type RemapResult struct {
	Rows    int
	Changed map[string]int // per column
	Entries []ledger.Entry
}

// Remap streams r to w replacing exact values of the named columns, for
// sentinel fixes such as a placeholder pincode. Columns missing from the
// header are an error. One ledger entry is produced per distinct
// (column, state, district, from) that matched at least one cell, so a revert
// only touches rows of the keys that were remapped.
func Remap(ctx context.Context, r io.Reader, w io.Writer, dataName string, columns []string, values map[string]string, chunk int) (*RemapResult, error) {
	res := &RemapResult{Changed: make(map[string]int)}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	in, err := dataset.NewReader(r)
	if err != nil {
		return res, err
	}
	if err := in.Require(columns...); err != nil {
		return res, err
	}
	out, err := dataset.NewWriter(w, in.Header())
	if err != nil {
		return res, err
	}

	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = in.Index(c)
	}
	stateCol, districtCol := in.Index(dataset.ColState), in.Index(dataset.ColDistrict)
	logged := make(map[string]bool)

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
			for i, c := range idx {
				to, ok := values[row[c]]
				if !ok || to == row[c] {
					continue
				}
				from := row[c]
				row[c] = to
				res.Changed[columns[i]]++
				key := mapping.NewKey(cell(row, stateCol), cell(row, districtCol))
				if k := strings.Join([]string{columns[i], key.State, key.District, from}, "\x1f"); !logged[k] {
					logged[k] = true
					res.Entries = append(res.Entries, ledger.Entry{
						Dataset:     dataName,
						Column:      columns[i],
						KeyState:    key.State,
						KeyDistrict: key.District,
						From:        from,
						To:          to,
						Source:      ledger.SourceRemap,
					})
				}
			}
		}
		res.Rows += len(rows)
		if err := out.WriteChunk(rows); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RemapFile runs Remap from inPath into outPath atomically and ledgers the
// replacements. inPath and outPath may be the same file.
func RemapFile(ctx context.Context, l *ledger.Ledger, inPath, outPath, dataName string, columns []string, values map[string]string, chunk int) (*RemapResult, error) {
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

	res, err := Remap(ctx, f, tmp, dataName, columns, values, chunk)
	if err != nil {
		return res, fmt.Errorf("failed to remap %s: %w", inPath, err)
	}
	if err := tmp.Commit(); err != nil {
		return res, err
	}
	if l != nil {
		if err := l.Append(res.Entries...); err != nil {
			return res, fmt.Errorf("failed to record remap: %w", err)
		}
	}
	return res, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
