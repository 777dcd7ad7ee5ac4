package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/afi-canon/internal/apply"
	"github.com/afi-canon/internal/cluster"
	"github.com/afi-canon/internal/config"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/pipeline"
	"github.com/afi-canon/internal/review"
)

// Intermediate artifact names in the workspace
const (
	observationsFile = "district_observations.csv"
	suggestionsFile  = "district_suggestions.csv"
	mergedFile       = "canonical_mapping.csv"
)

func createScanCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "scan [files...]",
		Short: "Count raw state/district keys across datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := pipeline.Scan(cmd.Context(), cfg.ChunkSize, args...)
			if err != nil {
				return err
			}
			if out == "" {
				out = cfg.Path(observationsFile)
			}
			if err := apply.WriteReportFile(out, func(w io.Writer) error {
				return pipeline.WriteObservations(w, obs)
			}); err != nil {
				return err
			}

			fmt.Printf("\n=== Scan Results ===\n")
			fmt.Printf("Files: %d\n", len(args))
			fmt.Printf("Rows: %d\n", obs.Total())
			fmt.Printf("Distinct keys: %d\n", obs.Len())
			fmt.Printf("Observations: %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output file (default <workspace>/"+observationsFile+")")
	return cmd
}

func createAutoMapCmd() *cobra.Command {
	var noStore bool

	cmd := &cobra.Command{
		Use:   "automap [files...]",
		Short: "Cluster district variants per state and score each cluster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			obs, err := pipeline.Scan(ctx, cfg.ChunkSize, args...)
			if err != nil {
				return err
			}
			mapper, err := pipeline.NewMapper(cfg, logger)
			if err != nil {
				return err
			}
			records, err := mapper.AutoMapDebug(ctx, debugMode, obs)
			if err != nil {
				return err
			}

			out := cfg.Path(pipeline.ReportAutoMap)
			if err := mapping.WriteRecordsFile(out, records); err != nil {
				return err
			}

			if !noStore {
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				for _, layer := range cluster.Layers(records) {
					if _, err := store.PutLayer(ctx, layer); err != nil {
						return err
					}
				}
			}

			tiers := make(map[mapping.Tier]int)
			for _, r := range records {
				tiers[r.Tier]++
			}
			fmt.Printf("\n=== Auto Mapping Results ===\n")
			fmt.Printf("Keys: %d\n", len(records))
			fmt.Printf("High: %d\n", tiers[mapping.TierHigh])
			fmt.Printf("Medium: %d\n", tiers[mapping.TierMedium])
			fmt.Printf("Low: %d\n", tiers[mapping.TierLow])
			fmt.Printf("Mapping: %s\n", out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStore, "no-store", false, "Write the mapping file without updating the store")
	return cmd
}

func createSuggestCmd() *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Propose canonical names for keys the clusterer left unresolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				in = cfg.Path(pipeline.ReportAutoMap)
			}
			if out == "" {
				out = cfg.Path(suggestionsFile)
			}
			records, err := mapping.ReadRecordsFile(in, mapping.SourceAutoLow)
			if err != nil {
				return err
			}

			var unresolved []mapping.Record
			for _, r := range records {
				if !r.Resolved() {
					unresolved = append(unresolved, r)
				}
			}
			suggestions := cluster.Suggest(unresolved, pipeline.SuggestRules(cfg))
			if err := mapping.WriteRecordsFile(out, suggestions); err != nil {
				return err
			}

			labels := make(map[string]int)
			for _, s := range suggestions {
				labels[s.SuggestionConfidence]++
			}
			fmt.Printf("\n=== Suggestions ===\n")
			fmt.Printf("Unresolved keys: %d\n", len(unresolved))
			fmt.Printf("auto_high: %d, auto_medium: %d, manual: %d\n",
				labels[cluster.SuggestAutoHigh], labels[cluster.SuggestAutoMedium], labels[cluster.SuggestManual])
			fmt.Printf("Suggestions: %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "Auto mapping file (default <workspace>/"+pipeline.ReportAutoMap+")")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default <workspace>/"+suggestionsFile+")")
	return cmd
}

func createTriageCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Run the suspicion and escalation passes and queue what needs a human",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(files) == 0 {
				files = []string{cfg.Path(pipeline.ReportAutoMap), cfg.Path(suggestionsFile)}
			}

			// Earlier files contribute their resolved records only; the
			// last file fills in whatever keys are still missing.
			var proposals []mapping.Record
			seen := make(map[mapping.Key]bool)
			for i, f := range files {
				records, err := mapping.ReadRecordsFile(f, mapping.SourceAutoLow)
				if err != nil {
					return err
				}
				for _, r := range records {
					if seen[r.Key] || (i < len(files)-1 && !r.Resolved()) {
						continue
					}
					seen[r.Key] = true
					proposals = append(proposals, r)
				}
			}

			tri, err := pipeline.NewTriage(cfg, proposals)
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := store.PutLayer(ctx, tri.AcceptedLayer()); err != nil {
				return err
			}
			queue, err := review.NewSQLiteQueue(ctx, store.DB())
			if err != nil {
				return err
			}
			if err := tri.Enqueue(ctx, queue); err != nil {
				return err
			}

			if err := apply.WriteReportFile(cfg.Path(pipeline.ReportSuspicion), func(w io.Writer) error {
				return review.WriteSuspicionReport(w, tri.Verdicts)
			}); err != nil {
				return err
			}
			if err := apply.WriteReportFile(cfg.Path(pipeline.ReportEscalation), func(w io.Writer) error {
				return review.WriteEscalationReport(w, tri.Decisions)
			}); err != nil {
				return err
			}

			fmt.Printf("\n=== Triage Results ===\n")
			fmt.Printf("Proposals: %d\n", len(proposals))
			fmt.Printf("Flagged: %d\n", tri.Flagged())
			fmt.Printf("Accepted after escalation: %d\n", len(tri.Decisions)-len(tri.Review))
			fmt.Printf("Queued for review: %d\n", len(tri.Review))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&files, "in", nil, "Mapping files to triage (default automap then suggestions)")
	return cmd
}

// newReviewer builds the reviewer named by kind. "none" returns nil.
func newReviewer(kind, decisions string) (review.Reviewer, error) {
	name := config.GetEnv("USER", "reviewer")
	switch kind {
	case "strict":
		return review.NewStrictReviewer(), nil
	case "interactive":
		return review.NewInteractiveReviewer(name, os.Stdin, os.Stdout), nil
	case "file":
		if decisions == "" {
			return nil, fmt.Errorf("the file reviewer needs --decisions")
		}
		f, err := os.Open(decisions)
		if err != nil {
			return nil, fmt.Errorf("failed to open decisions %s: %w", decisions, err)
		}
		defer f.Close()
		ds, err := review.ReadDecisions(f)
		if err != nil {
			return nil, err
		}
		return review.NewFileReviewer(name, ds), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown reviewer %q", kind)
}

func createReviewCmd() *cobra.Command {
	var reviewer, decisions, export string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Drain the review queue and store accepted decisions as the manual layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if reviewer == "" {
				reviewer = cfg.Reviewer
			}
			r, err := newReviewer(reviewer, decisions)
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			queue, err := review.NewSQLiteQueue(ctx, store.DB())
			if err != nil {
				return err
			}

			if r != nil {
				res, err := review.Drain(ctx, queue, r, logger)
				if err != nil {
					return err
				}
				fmt.Printf("\n=== Review Session ===\n")
				fmt.Printf("Reviewed: %d\n", res.Reviewed)
				fmt.Printf("Accepted: %d\n", res.Accepted)
				fmt.Printf("Rejected: %d\n", res.Rejected)
				fmt.Printf("Skipped: %d\n", res.Skipped)
			}
			if err := pipeline.StoreReviewed(ctx, store, queue); err != nil {
				return err
			}

			counts, err := queue.Counts(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Queue: %d pending, %d accepted, %d rejected\n",
				counts[review.StatusPending], counts[review.StatusAccepted], counts[review.StatusRejected])

			if export != "" {
				pending, err := queue.Pending(ctx, 0)
				if err != nil {
					return err
				}
				resolved, err := queue.Resolved(ctx)
				if err != nil {
					return err
				}
				if err := apply.WriteReportFile(export, func(w io.Writer) error {
					return review.WriteQueue(w, append(pending, resolved...))
				}); err != nil {
					return err
				}
				fmt.Printf("Queue exported to %s\n", export)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "strict, interactive, file or none (default from config)")
	cmd.Flags().StringVar(&decisions, "decisions", "", "Decisions file for the file reviewer")
	cmd.Flags().StringVar(&export, "export", "", "Write the queue in decisions-file layout to this path")
	return cmd
}

func createLayerCmd() *cobra.Command {
	layerCmd := &cobra.Command{
		Use:   "layer",
		Short: "Manage stored mapping layers",
	}
	layerCmd.AddCommand(createLayerImportCmd())
	layerCmd.AddCommand(createLayerListCmd())
	return layerCmd
}

func createLayerImportCmd() *cobra.Command {
	var merge bool

	cmd := &cobra.Command{
		Use:   "import [source] [filename]",
		Short: "Replace (or merge into) one layer from a mapping file",
		Long:  "Sources: " + sourceNames(),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := mapping.ParseSource(args[0])
			if err != nil {
				return err
			}
			records, err := mapping.ReadRecordsFile(args[1], src)
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			layer := mapping.NewLayer(src, records)
			var version string
			if merge {
				version, err = pipeline.MergeLayer(ctx, store, layer)
			} else {
				version, err = store.PutLayer(ctx, layer)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d records into %s (version %s)\n", len(records), src, version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&merge, "merge", false, "Keep stored records whose keys the file does not mention")
	return cmd
}

func createLayerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List layer versions, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			versions, err := store.Versions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%-26s  %-12s  %8s  %-20s  %s\n", "VERSION", "SOURCE", "RECORDS", "CREATED", "DIGEST")
			for _, v := range versions {
				fmt.Printf("%-26s  %-12s  %8d  %-20s  %.12s\n",
					v.ID, v.Source, v.Records, v.CreatedAt.Format("2006-01-02 15:04:05"), v.Digest)
			}
			return nil
		},
	}
}

func createBuildCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Merge every stored layer and write the canonical mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			merged, err := store.Build(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" {
				out = cfg.Path(mergedFile)
			}
			if err := mapping.WriteRecordsFile(out, merged.Records()); err != nil {
				return err
			}

			tiers, err := mapping.ParseTiers(cfg.ApplyTiers)
			if err != nil {
				return err
			}
			fmt.Printf("\n=== Store ===\n")
			fmt.Printf("Keys: %d\n", merged.Len())
			fmt.Printf("Unresolved under %s: %d\n", strings.Join(cfg.ApplyTiers, ","), len(merged.Unresolved(tiers)))
			fmt.Printf("Digest: %s\n", merged.Digest())
			fmt.Printf("Mapping: %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output file (default <workspace>/"+mergedFile+")")
	return cmd
}

func sourceNames() string {
	names := make([]string, len(mapping.Priority))
	for i, s := range mapping.Priority {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
