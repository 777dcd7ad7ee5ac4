package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afi-canon/internal/apply"
	"github.com/afi-canon/internal/audit"
	"github.com/afi-canon/internal/cluster"
	"github.com/afi-canon/internal/config"
	"github.com/afi-canon/internal/debug"
	"github.com/afi-canon/internal/ledger"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/review"
)

// Report file names written into the workspace
const (
	ReportUnresolved = "unresolved_keys.csv"
	ReportSuspicion  = "suspicion_report.csv"
	ReportEscalation = "escalation_report.csv"
	ReportQueue      = "review_queue.csv"
	ReportCheck      = "check_summary.csv"
	ReportAutoMap    = "district_auto_mapping.csv"
)

// Pipeline wires every stage to one configuration.
type Pipeline struct {
	Config   *config.Config
	Logger   *slog.Logger
	Reviewer review.Reviewer // nil leaves flagged items pending
	Debug    bool
}

// Run is a convenience wrapper running the unattended pipeline with the
// strict reviewer, or none when cfg.Reviewer is "none".
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, datasets []Dataset) (*Stats, error) {
	p := &Pipeline{Config: cfg, Logger: logger}
	if cfg.Reviewer == "strict" {
		p.Reviewer = review.NewStrictReviewer()
	}
	return p.Run(ctx, datasets)
}

// Run scans datasets, rebuilds the automatic and triage layers, drains the
// review queue, merges the store and rewrites every dataset. Layers that
// came from people (manual and reverted) survive reruns. No output is
// written when any input is missing.
func (p *Pipeline) Run(ctx context.Context, datasets []Dataset) (*Stats, error) {
	debug.DebugHeader(p.Debug)
	defer debug.DebugFooter(p.Debug)

	start := time.Now()
	cfg := p.Config
	stats := &Stats{RunID: ulid.Make().String(), Datasets: len(datasets)}
	logger := p.Logger
	if logger == nil {
		logger = config.Discard()
	}
	logger = logger.With("run_id", stats.RunID)

	for _, ds := range datasets {
		if _, err := os.Stat(ds.Input); err != nil {
			return nil, fmt.Errorf("%w: %s", apply.ErrMissingInput, ds.Input)
		}
	}
	paths := make([]string, len(datasets))
	for i, ds := range datasets {
		paths[i] = ds.Input
	}

	// Scan
	obs, err := Scan(ctx, cfg.ChunkSize, paths...)
	if err != nil {
		return nil, err
	}
	stats.Rows, stats.Keys = obs.Total(), obs.Len()
	debug.DebugOutput(p.Debug, "Scanned %d rows, %d distinct keys", stats.Rows, stats.Keys)

	store, err := mapping.OpenLayerStore(ctx, cfg.StorePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	tracker, err := audit.NewTracker(ctx, store.DB())
	if err != nil {
		return nil, err
	}
	queue, err := review.NewSQLiteQueue(ctx, store.DB())
	if err != nil {
		return nil, err
	}
	life := &lifecycle{tracker: tracker, debug: p.Debug, stats: stats}

	// Cluster and score
	mapper, err := NewMapper(cfg, logger)
	if err != nil {
		return nil, err
	}
	records, err := mapper.AutoMapDebug(ctx, p.Debug, obs)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-map: %w", err)
	}
	var batch []audit.Transition
	for _, r := range records {
		switch r.Tier {
		case mapping.TierHigh:
			stats.High++
		case mapping.TierMedium:
			stats.Medium++
		default:
			stats.Low++
		}
		batch = append(batch,
			audit.Transition{Key: r.Key, To: audit.Clustered, Detail: stats.RunID},
			audit.Transition{Key: r.Key, To: audit.Scored, Detail: r.Tier.String()})
	}
	if err := life.record(ctx, batch); err != nil {
		return nil, err
	}

	// Triage: resolved auto records as they stand, the rest through the
	// suggestion engine
	var proposals, unresolved []mapping.Record
	for _, r := range records {
		if r.Resolved() {
			proposals = append(proposals, r)
		} else {
			unresolved = append(unresolved, r)
		}
	}
	proposals = append(proposals, cluster.Suggest(unresolved, SuggestRules(cfg))...)
	tri, err := NewTriage(cfg, proposals)
	if err != nil {
		return nil, err
	}
	stats.Flagged = tri.Flagged()
	stats.QueuedForReview = len(tri.Review)
	stats.EscalatedAccept = len(tri.Decisions) - len(tri.Review)

	// Records waiting on a human must not apply through their auto layer.
	withheld := make(map[mapping.Key]bool, len(tri.Review))
	batch = batch[:0]
	for _, it := range tri.Review {
		withheld[it.Record.Key] = true
		batch = append(batch, audit.Transition{Key: it.Record.Key, To: audit.FlaggedForReview, Detail: strings.Join(it.Reasons, ";")})
	}
	for i, r := range records {
		if withheld[r.Key] {
			r.CanonicalState, r.CanonicalDistrict = "", ""
			r.Tier = mapping.TierLow
			records[i] = r
		}
	}
	if err := life.record(ctx, batch); err != nil {
		return nil, err
	}

	for _, layer := range append(cluster.Layers(records), tri.AcceptedLayer()) {
		version, err := store.PutLayer(ctx, layer)
		if err != nil {
			return nil, err
		}
		debug.DebugOutput(p.Debug, "Stored layer %s (%d records) as %s", layer.Source, len(layer.Records), version)
	}
	if err := tri.Enqueue(ctx, queue); err != nil {
		return nil, fmt.Errorf("failed to enqueue review items: %w", err)
	}

	// Review
	if p.Reviewer != nil {
		dr, err := review.Drain(ctx, queue, p.Reviewer, logger)
		if err != nil {
			return nil, err
		}
		stats.Reviewed, stats.ReviewAccepted = dr.Reviewed, dr.Accepted
		stats.ReviewRejected, stats.ReviewSkipped = dr.Rejected, dr.Skipped
		batch = batch[:0]
		for _, k := range dr.AcceptedKeys {
			batch = append(batch, audit.Transition{Key: k, To: audit.Accepted})
		}
		for _, k := range dr.RejectedKeys {
			batch = append(batch,
				audit.Transition{Key: k, To: audit.Rejected},
				audit.Transition{Key: k, To: audit.PermanentlyUnresolved})
		}
		if err := life.record(ctx, batch); err != nil {
			return nil, err
		}
	}
	if err := StoreReviewed(ctx, store, queue); err != nil {
		return nil, err
	}
	if counts, err := queue.Counts(ctx); err == nil {
		stats.PendingReview = counts[review.StatusPending]
	}

	// Build and apply
	merged, err := store.Build(ctx)
	if err != nil {
		return nil, err
	}
	stats.StoreDigest = merged.Digest()

	tiers, err := mapping.ParseTiers(cfg.ApplyTiers)
	if err != nil {
		return nil, err
	}
	l := ledger.Open(cfg.LedgerPath)
	states, err := NewStateResolver(cfg)
	if err != nil {
		return nil, err
	}
	unresolvedRows := make(map[mapping.Key]int)
	var sums []*apply.CheckSummary
	for _, ds := range datasets {
		a, err := NewApplier(cfg, merged, l, ds.Name, logger)
		if err != nil {
			return nil, err
		}
		a.States = states
		res, err := a.ApplyFile(ctx, ds.Input, ds.Output)
		if err != nil {
			return nil, err
		}
		stats.AppliedRows += res.Applied
		stats.FallbackRows += res.FallbackRows
		stats.Outputs = append(stats.Outputs, ds.Output)
		for k, n := range res.Unresolved {
			unresolvedRows[k] += n
		}

		sum, err := apply.CheckFile(ctx, ds.Output, ds.Name, cfg.ChunkSize)
		if err != nil {
			return nil, err
		}
		sums = append(sums, sum)
	}
	stats.UnresolvedKeys = len(unresolvedRows)

	batch = batch[:0]
	for _, k := range obs.Keys() {
		if _, ok := merged.Resolve(k, tiers, cfg.EmptyValue); ok {
			batch = append(batch, audit.Transition{Key: k, To: audit.Applied, Detail: stats.RunID})
		}
	}
	if err := life.record(ctx, batch); err != nil {
		return nil, err
	}

	// Reports
	items, err := queueItems(ctx, queue)
	if err != nil {
		return nil, err
	}
	reports := []struct {
		name  string
		write func(io.Writer) error
	}{
		{ReportAutoMap, func(w io.Writer) error { return mapping.WriteRecords(w, records) }},
		{ReportUnresolved, func(w io.Writer) error { return apply.WriteUnresolved(w, merged, unresolvedRows) }},
		{ReportSuspicion, func(w io.Writer) error { return review.WriteSuspicionReport(w, tri.Verdicts) }},
		{ReportEscalation, func(w io.Writer) error { return review.WriteEscalationReport(w, tri.Decisions) }},
		{ReportQueue, func(w io.Writer) error { return review.WriteQueue(w, items) }},
		{ReportCheck, func(w io.Writer) error { return apply.WriteCheckSummaries(w, sums) }},
	}
	for _, rep := range reports {
		path := cfg.Path(rep.name)
		if err := apply.WriteReportFile(path, rep.write); err != nil {
			return nil, err
		}
		stats.Reports = append(stats.Reports, path)
	}

	stats.ProcessingTime = time.Since(start)
	stats.Log(p.Debug, logger)
	return stats, nil
}

// StoreReviewed merges every accepted review item into the manual layer.
func StoreReviewed(ctx context.Context, store *mapping.LayerStore, q review.Queue) error {
	resolved, err := q.Resolved(ctx)
	if err != nil {
		return err
	}
	reviewed := review.ManualLayer(resolved)
	if len(reviewed.Records) == 0 {
		return nil
	}
	_, err = MergeLayer(ctx, store, reviewed)
	return err
}

// MergeLayer stores layer on top of the records its source already holds.
// Incoming records replace stored ones with the same key; the rest are kept.
func MergeLayer(ctx context.Context, store *mapping.LayerStore, layer mapping.Layer) (string, error) {
	existing, err := store.Layer(ctx, layer.Source)
	if err != nil {
		return "", err
	}
	override := make(map[mapping.Key]bool, len(layer.Records))
	for _, r := range layer.Records {
		override[r.Key] = true
	}
	recs := append([]mapping.Record(nil), layer.Records...)
	for _, r := range existing.Records {
		if !override[r.Key] {
			recs = append(recs, r)
		}
	}
	return store.PutLayer(ctx, mapping.NewLayer(layer.Source, recs))
}

func queueItems(ctx context.Context, q review.Queue) ([]review.Item, error) {
	pending, err := q.Pending(ctx, 0)
	if err != nil {
		return nil, err
	}
	resolved, err := q.Resolved(ctx)
	if err != nil {
		return nil, err
	}
	return append(pending, resolved...), nil
}

type lifecycle struct {
	tracker *audit.Tracker
	debug   bool
	stats   *Stats
}

func (l *lifecycle) record(ctx context.Context, batch []audit.Transition) error {
	moved, refused, err := l.tracker.RecordMany(ctx, l.debug, batch)
	l.stats.LifecycleMoved += moved
	l.stats.LifecycleRefused += refused
	if err != nil {
		return fmt.Errorf("failed to record lifecycle: %w", err)
	}
	return nil
}
