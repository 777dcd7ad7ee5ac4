package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/afi-canon/internal/apply"
	"github.com/afi-canon/internal/audit"
	"github.com/afi-canon/internal/dataset"
	"github.com/afi-canon/internal/ledger"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/pipeline"
)

// Report names for the dataset commands
const (
	stateSuggestionsFile = "state_suggestions.csv"
	stateChangesFile     = "state_changes.csv"
	topChangesFile       = "top_changes.csv"
)

func datasetName(name, path string) string {
	if name != "" {
		return name
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func createApplyCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "apply [input] [output]",
		Short: "Rewrite a dataset with canonical names from the merged store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			merged, err := store.Build(ctx)
			if err != nil {
				return err
			}

			a, err := pipeline.NewApplier(cfg, merged, ledger.Open(cfg.LedgerPath), datasetName(name, args[0]), logger)
			if err != nil {
				return err
			}
			res, err := a.ApplyFile(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if err := apply.WriteReportFile(cfg.Path(pipeline.ReportUnresolved), func(w io.Writer) error {
				return apply.WriteUnresolved(w, merged, res.Unresolved)
			}); err != nil {
				return err
			}

			fmt.Printf("\n=== Apply Results ===\n")
			fmt.Printf("Dataset: %s\n", res.Dataset)
			fmt.Printf("Rows: %d in %d chunks\n", res.RowsOut, res.Chunks)
			fmt.Printf("Applied: %d (%.2f%%)\n", res.Applied, pct(res.Applied, res.RowsOut))
			fmt.Printf("Fallback: %d\n", res.FallbackRows)
			fmt.Printf("Unresolved keys: %d\n", len(res.Unresolved))
			fmt.Printf("Coerced numeric cells: %d\n", res.CoercedCells)
			fmt.Printf("Overrides ledgered: %d\n", len(res.Overrides))
			fmt.Printf("Took: %v\n", res.Duration)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Dataset name for the ledger (default input file name)")
	return cmd
}

func createDryRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run [input]",
		Short: "Report how many rows apply would resolve without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			merged, err := store.Build(ctx)
			if err != nil {
				return err
			}
			tiers, err := mapping.ParseTiers(cfg.ApplyTiers)
			if err != nil {
				return err
			}

			f, err := dataset.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := apply.DryRun(ctx, f, merged, tiers, cfg.ChunkSize)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Dry Run ===\n")
			fmt.Printf("Rows: %d\n", res.Rows)
			fmt.Printf("Keys: %d (%d resolved)\n", res.Keys, res.AppliedKeys)
			fmt.Printf("Rows resolved: %d (%.2f%%)\n", res.AppliedRows, pct(res.AppliedRows, res.Rows))
			fmt.Printf("Unresolved keys: %d\n", len(res.Unresolved))
			return nil
		},
	}
}

func createStatesCmd() *cobra.Command {
	statesCmd := &cobra.Command{
		Use:   "states",
		Short: "Inspect state values against the canonical whitelist",
	}
	statesCmd.AddCommand(createStatesSuggestCmd())
	return statesCmd
}

func createStatesSuggestCmd() *cobra.Command {
	var column, out string

	cmd := &cobra.Command{
		Use:   "suggest [files...]",
		Short: "List state values outside the whitelist with their closest match",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			counts := make(map[string]int)
			for _, path := range args {
				f, err := dataset.Open(path)
				if err != nil {
					return err
				}
				c, err := apply.StateCounts(cmd.Context(), f, column, cfg.ChunkSize)
				f.Close()
				if err != nil {
					return fmt.Errorf("failed to count states in %s: %w", path, err)
				}
				for v, n := range c {
					counts[v] += n
				}
			}

			resolver, err := pipeline.NewStateResolver(cfg)
			if err != nil {
				return err
			}
			suggestions := resolver.SuggestStates(counts)
			if out == "" {
				out = cfg.Path(stateSuggestionsFile)
			}
			if err := apply.WriteReportFile(out, func(w io.Writer) error {
				return apply.WriteStateSuggestions(w, suggestions)
			}); err != nil {
				return err
			}
			fmt.Printf("Non-canonical state values: %d\n", len(suggestions))
			fmt.Printf("Suggestions: %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&column, "column", dataset.ColStateClean, "State column to inspect")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default <workspace>/"+stateSuggestionsFile+")")
	return cmd
}

func createRemapCmd() *cobra.Command {
	var name string
	var columns []string
	var values map[string]string

	cmd := &cobra.Command{
		Use:   "remap [input] [output]",
		Short: "Replace exact cell values, recording each replacement in the ledger",
		Long: `Replace exact values of the named columns, for sentinel fixes such as a
placeholder pincode. The output may be the input path.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(values) == 0 {
				return fmt.Errorf("no --value replacements given")
			}
			out := args[0]
			if len(args) == 2 {
				out = args[1]
			}
			res, err := apply.RemapFile(cmd.Context(), ledger.Open(cfg.LedgerPath), args[0], out,
				datasetName(name, args[0]), columns, values, cfg.ChunkSize)
			if err != nil {
				return err
			}
			fmt.Printf("Rows: %d\n", res.Rows)
			for _, c := range columns {
				fmt.Printf("  %s: %d cells changed\n", c, res.Changed[c])
			}
			fmt.Printf("Ledger entries: %d\n", len(res.Entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Dataset name for the ledger (default input file name)")
	cmd.Flags().StringSliceVar(&columns, "column", []string{dataset.ColPincode}, "Columns to remap")
	cmd.Flags().StringToStringVar(&values, "value", nil, "Replacement as from=to (repeatable)")
	return cmd
}

func createRevertCmd() *cobra.Command {
	var name string
	var sources, ids []string
	var pin bool

	cmd := &cobra.Command{
		Use:   "revert [input] [output]",
		Short: "Undo ledgered overrides in a dataset",
		Long: `Undo ledgered overrides for one dataset, optionally restricted to sources
or entry IDs. With --pin, district-level reverts are also stored as the
reverted layer so rebuilding the store keeps them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l := ledger.Open(cfg.LedgerPath)
			entries, err := l.Entries()
			if err != nil {
				return err
			}
			entries = ledger.Filter(entries, ledger.ByDataset(datasetName(name, args[0])))
			if len(sources) > 0 {
				entries = ledger.Filter(entries, ledger.BySource(sources...))
			}
			if len(ids) > 0 {
				entries = ledger.Filter(entries, ledger.ByIDs(ids...))
			}
			if len(entries) == 0 {
				fmt.Println("No ledger entries match; nothing to revert")
				return nil
			}

			res, err := ledger.RevertFile(ctx, l, args[0], args[1], entries, cfg.ChunkSize)
			if err != nil {
				return err
			}
			fmt.Printf("Rows: %d\n", res.Rows)
			fmt.Printf("Cells restored: %d\n", res.Restored)
			fmt.Printf("Entries undone: %d of %d\n", len(res.Applied), len(entries))

			if pin {
				layer := ledger.RevertLayer(res.Applied)
				if len(layer.Records) == 0 {
					return nil
				}
				if err := pinReverted(cmd, layer); err != nil {
					return err
				}
				fmt.Printf("Pinned %d keys in the reverted layer\n", len(layer.Records))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Dataset name in the ledger (default input file name)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Only undo entries from these sources")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Only undo these entry IDs")
	cmd.Flags().BoolVar(&pin, "pin", false, "Store district-level reverts as the reverted layer")
	return cmd
}

// pinReverted merges layer into the reverted layer and marks its keys
// reverted in the lifecycle.
func pinReverted(cmd *cobra.Command, layer mapping.Layer) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if _, err := pipeline.MergeLayer(ctx, store, layer); err != nil {
		return err
	}

	tracker, err := audit.NewTracker(ctx, store.DB())
	if err != nil {
		return err
	}
	batch := make([]audit.Transition, 0, len(layer.Records))
	for _, r := range layer.Records {
		batch = append(batch, audit.Transition{Key: r.Key, To: audit.Reverted, Detail: r.Note})
	}
	_, refused, err := tracker.RecordMany(ctx, debugMode, batch)
	if err != nil {
		return err
	}
	if refused > 0 {
		logger.Warn("keys pinned without an applied lifecycle state", "count", refused)
	}
	return nil
}

func createCheckCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "check [files...]",
		Short: "Summarise canonicalized datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sums []*apply.CheckSummary
			var changes []apply.StateChange
			for _, path := range args {
				sum, err := apply.CheckFile(cmd.Context(), path, datasetName("", path), cfg.ChunkSize)
				if err != nil {
					return err
				}
				sums = append(sums, sum)
				changes = append(changes, sum.TopChanges...)

				fmt.Printf("\n=== %s ===\n", sum.Dataset)
				fmt.Printf("Rows: %d\n", sum.Rows)
				fmt.Printf("States: %d raw, %d canonical (%d empty)\n", sum.UniqueStates, sum.UniqueCanonical, sum.EmptyCanonical)
				fmt.Printf("Changed rows: %d (%.2f%%)\n", sum.ChangedRows, sum.PctChanged)
				fmt.Printf("Bad pincodes: %d\n", sum.BadPincodes)
				if !sum.FirstDate.IsZero() {
					fmt.Printf("Dates: %s to %s\n", sum.FirstDate.Format("2006-01-02"), sum.LastDate.Format("2006-01-02"))
				}
			}

			if out == "" {
				out = cfg.Path(pipeline.ReportCheck)
			}
			if err := apply.WriteReportFile(out, func(w io.Writer) error {
				return apply.WriteCheckSummaries(w, sums)
			}); err != nil {
				return err
			}
			return apply.WriteReportFile(cfg.Path(stateChangesFile), func(w io.Writer) error {
				return apply.WriteStateChanges(w, changes)
			})
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output file (default <workspace>/"+pipeline.ReportCheck+")")
	return cmd
}

func createChangesCmd() *cobra.Command {
	var weights []string
	var limit, revertTop int

	cmd := &cobra.Command{
		Use:   "changes [file]",
		Short: "Rank original to clean district changes by weight",
		Long: `Rank (state, district) to (state_clean, district_clean) changes, weighted by
the sum of the given columns or by row count. With --revert-top N the N
heaviest changes are pinned back to their original spelling.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := apply.TopChangesFile(cmd.Context(), args[0], weights, limit, cfg.ChunkSize)
			if err != nil {
				return err
			}
			if err := apply.WriteReportFile(cfg.Path(topChangesFile), func(w io.Writer) error {
				return apply.WritePairChanges(w, changes)
			}); err != nil {
				return err
			}
			for i, c := range changes {
				if i == 10 {
					break
				}
				fmt.Printf("%10.0f  %s -> %s\n", c.Weight, c.Original, c.Clean)
			}

			if revertTop > 0 {
				if revertTop > len(changes) {
					revertTop = len(changes)
				}
				layer := mapping.NewLayer(mapping.SourceReverted, apply.RevertRecords(changes[:revertTop]))
				if err := pinReverted(cmd, layer); err != nil {
					return err
				}
				fmt.Printf("Pinned %d keys in the reverted layer\n", len(layer.Records))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&weights, "weight", nil, "Columns to sum as the change weight (default row count)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of changes to report")
	cmd.Flags().IntVar(&revertTop, "revert-top", 0, "Pin this many of the heaviest changes to their originals")
	return cmd
}

func createRunCmd() *cobra.Command {
	var reviewer, decisions, outDir string

	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Run every stage from scan to apply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reviewer == "" {
				reviewer = cfg.Reviewer
			}
			r, err := newReviewer(reviewer, decisions)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Workspace
			}
			datasets := make([]pipeline.Dataset, len(args))
			for i, path := range args {
				datasets[i] = pipeline.DatasetFor(outDir, path)
			}

			p := &pipeline.Pipeline{Config: cfg, Logger: logger, Reviewer: r, Debug: debugMode}
			stats, err := p.Run(cmd.Context(), datasets)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Canonicalization Results ===\n")
			fmt.Printf("Run ID: %s\n", stats.RunID)
			fmt.Printf("Rows: %d across %d datasets\n", stats.Rows, stats.Datasets)
			fmt.Printf("Keys: %d (high %d, medium %d, low %d)\n", stats.Keys, stats.High, stats.Medium, stats.Low)
			fmt.Printf("Flagged: %d, accepted on escalation %d, queued %d\n", stats.Flagged, stats.EscalatedAccept, stats.QueuedForReview)
			fmt.Printf("Reviewed: %d (accepted %d, rejected %d), pending %d\n",
				stats.Reviewed, stats.ReviewAccepted, stats.ReviewRejected, stats.PendingReview)
			fmt.Printf("Applied rows: %d (%.2f%%)\n", stats.AppliedRows, pct(stats.AppliedRows, stats.Rows))
			fmt.Printf("Unresolved keys: %d\n", stats.UnresolvedKeys)
			fmt.Printf("Store digest: %s\n", stats.StoreDigest)
			for _, o := range stats.Outputs {
				fmt.Printf("Output: %s\n", o)
			}
			fmt.Printf("Took: %v\n", stats.ProcessingTime)
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "strict, interactive, file or none (default from config)")
	cmd.Flags().StringVar(&decisions, "decisions", "", "Decisions file for the file reviewer")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory for canonical datasets (default workspace)")
	return cmd
}

func createAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the lifecycle of mapping keys",
	}

	auditCmd.AddCommand(&cobra.Command{
		Use:   "history [state] [district]",
		Short: "Show every lifecycle transition of one key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			tracker, err := audit.NewTracker(ctx, store.DB())
			if err != nil {
				return err
			}
			key := mapping.NewKey(args[0], args[1])
			history, err := tracker.History(ctx, debugMode, key)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Printf("%s has no recorded history\n", key)
				return nil
			}
			for _, h := range history {
				fmt.Printf("%s  %-22s -> %-22s %s\n", h.RecordedAt.Format("2006-01-02 15:04:05"), h.From, h.To, h.Detail)
			}
			return nil
		},
	})

	auditCmd.AddCommand(&cobra.Command{
		Use:   "counts",
		Short: "Count keys per lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			tracker, err := audit.NewTracker(ctx, store.DB())
			if err != nil {
				return err
			}
			counts, err := tracker.Counts(ctx)
			if err != nil {
				return err
			}
			for _, s := range []audit.State{
				audit.Clustered, audit.Scored, audit.FlaggedForReview, audit.Accepted,
				audit.Rejected, audit.Applied, audit.PermanentlyUnresolved, audit.Reverted,
			} {
				fmt.Printf("%-22s %d\n", s, counts[s])
			}
			return nil
		},
	})
	return auditCmd
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
