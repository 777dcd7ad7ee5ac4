package cluster

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/afi-canon/internal/debug"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// Mapper turns observations into auto-mapping records.
type Mapper struct {
	Clusterer *Clusterer
	Scorer    *Scorer
	Workers   int
	Logger    *slog.Logger
}

// AutoMap clusters each state independently and emits one record per raw
// key. States run in parallel; output order follows the observation order.
// Canonical fields are filled only for high and medium clusters.
func (m *Mapper) AutoMap(ctx context.Context, obs *Observations) ([]mapping.Record, error) {
	return m.AutoMapDebug(ctx, false, obs)
}

// AutoMapDebug is AutoMap with optional debug output
func (m *Mapper) AutoMapDebug(ctx context.Context, localDebug bool, obs *Observations) ([]mapping.Record, error) {
	defer debug.DebugTiming(localDebug, "automap")()

	groups := obs.ByState()
	results := make([][]mapping.Record, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	workers := m.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = m.mapState(group)
			debug.DebugOutput(localDebug, "state %q: %d variants -> %d records", group.State, len(group.Variants), len(results[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []mapping.Record
	counts := make(map[mapping.Tier]int)
	for _, recs := range results {
		for _, r := range recs {
			counts[r.Tier]++
		}
		out = append(out, recs...)
	}
	if m.Logger != nil {
		m.Logger.Info("auto mapping complete",
			"states", len(groups),
			"records", len(out),
			"high", counts[mapping.TierHigh],
			"medium", counts[mapping.TierMedium],
			"low", counts[mapping.TierLow])
	}
	return out, nil
}

func (m *Mapper) mapState(group StateGroup) []mapping.Record {
	suggestedState := normalize.TitleCase(group.State)
	forms := group.Forms()
	if len(forms) == 0 {
		return nil
	}

	byForm := make(map[string]Score)
	for _, members := range m.Clusterer.Cluster(forms) {
		sc := m.Scorer.ScoreCluster(members, group.Variants)
		for _, f := range members {
			byForm[f] = sc
		}
	}

	seen := make(map[mapping.Key]bool)
	records := make([]mapping.Record, 0, len(group.Variants))
	for _, v := range group.Variants {
		key := mapping.NewKey(v.RawState, v.Raw)
		if seen[key] {
			continue
		}
		seen[key] = true

		sc := byForm[v.Normalized]
		r := mapping.Record{
			Key:               key,
			SuggestedState:    suggestedState,
			SuggestedDistrict: normalize.TitleCase(sc.Dominant),
			Tier:              sc.Tier,
			Source:            mapping.AutoSource(sc.Tier),
			Note:              sc.Note,
		}
		if sc.Tier == mapping.TierHigh || sc.Tier == mapping.TierMedium {
			r.CanonicalState = suggestedState
			r.CanonicalDistrict = sc.CanonicalRaw
		}
		records = append(records, r)
	}
	return records
}

// Layers splits auto-mapping records into their per-tier layers.
func Layers(records []mapping.Record) []mapping.Layer {
	bySource := make(map[mapping.Source][]mapping.Record)
	for _, r := range records {
		src := mapping.AutoSource(r.Tier)
		bySource[src] = append(bySource[src], r)
	}
	var out []mapping.Layer
	for _, src := range []mapping.Source{mapping.SourceAutoHigh, mapping.SourceAutoMedium, mapping.SourceAutoLow} {
		out = append(out, mapping.NewLayer(src, bySource[src]))
	}
	return out
}
