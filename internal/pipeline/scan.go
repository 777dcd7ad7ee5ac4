// Package pipeline runs the canonicalization stages end to end: scan the
// datasets, cluster and score, triage and review, build the store and
// rewrite every dataset.
package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/afi-canon/internal/apply"
	"github.com/afi-canon/internal/cluster"
	"github.com/afi-canon/internal/dataset"
)

// Dataset is one input file and where its canonical copy goes.
type Dataset struct {
	Name   string
	Input  string
	Output string
}

// DatasetFor names a dataset after its file and places the output in dir
// as <name>_clean.csv.
func DatasetFor(dir, input string) Dataset {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return Dataset{
		Name:   name,
		Input:  input,
		Output: filepath.Join(dir, name+"_clean.csv"),
	}
}

// ScanReader adds one observation per row of r into obs.
func ScanReader(ctx context.Context, r io.Reader, obs *cluster.Observations, chunk int) (int, error) {
	in, err := dataset.NewReader(r)
	if err != nil {
		return 0, err
	}
	if err := in.Require(dataset.ColState, dataset.ColDistrict); err != nil {
		return 0, err
	}
	if chunk <= 0 {
		chunk = apply.DefaultChunkSize
	}

	si, di := in.Index(dataset.ColState), in.Index(dataset.ColDistrict)
	rows := 0
	err = in.Each(chunk, func(row []string) error {
		if rows%chunk == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		obs.Add(cell(row, si), cell(row, di), 1)
		rows++
		return nil
	})
	return rows, err
}

// Scan reads every path in parallel and merges the observations in path
// order, so first-seen order does not depend on scheduling.
func Scan(ctx context.Context, chunk int, paths ...string) (*cluster.Observations, error) {
	parts := make([]*cluster.Observations, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			f, err := dataset.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			obs := cluster.NewObservations()
			if _, err := ScanReader(ctx, f, obs, chunk); err != nil {
				return fmt.Errorf("failed to scan %s: %w", path, err)
			}
			parts[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := cluster.NewObservations()
	for _, p := range parts {
		all.Merge(p)
	}
	return all, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// WriteObservations writes one line per raw key with its row count.
func WriteObservations(w io.Writer, obs *cluster.Observations) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{dataset.ColState, dataset.ColDistrict, "rows"}); err != nil {
		return err
	}
	for _, k := range obs.Keys() {
		if err := cw.Write([]string{k.State, k.District, strconv.Itoa(obs.Weight(k))}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
