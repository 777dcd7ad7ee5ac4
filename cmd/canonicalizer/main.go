package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/afi-canon/internal/config"
	"github.com/afi-canon/internal/mapping"
)

var version = "dev"

var (
	configPath string
	workspace  string
	debugMode  bool

	// Set up by the root command before any subcommand runs
	cfg      *config.Config
	logger   *slog.Logger
	closeLog = func() error { return nil }
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "canonicalizer",
		Short: "Place-name canonicalization for state and district columns",
		Long: `Clusters spelling variants of district names, scores and reviews the proposed
canonical names, and rewrites datasets with the result. Every override is
recorded so it can be reverted.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeLog()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "canonicalizer.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "Directory for reports and the mapping store (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug output")

	rootCmd.AddCommand(createScanCmd())
	rootCmd.AddCommand(createAutoMapCmd())
	rootCmd.AddCommand(createSuggestCmd())
	rootCmd.AddCommand(createTriageCmd())
	rootCmd.AddCommand(createReviewCmd())
	rootCmd.AddCommand(createLayerCmd())
	rootCmd.AddCommand(createBuildCmd())
	rootCmd.AddCommand(createApplyCmd())
	rootCmd.AddCommand(createDryRunCmd())
	rootCmd.AddCommand(createStatesCmd())
	rootCmd.AddCommand(createRemapCmd())
	rootCmd.AddCommand(createRevertCmd())
	rootCmd.AddCommand(createCheckCmd())
	rootCmd.AddCommand(createChangesCmd())
	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createAuditCmd())
	rootCmd.AddCommand(createVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeLog()
		stop()
		os.Exit(1)
	}
}

// setup loads .env, the config file and the logger
func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	if workspace != "" {
		os.Setenv("CANON_WORKSPACE", workspace)
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Level()
	if debugMode {
		level = slog.LevelDebug
	}
	logger, closeLog = config.SetupLogger(cfg.LogFile, level)
	slog.SetDefault(logger)
	return nil
}

// openStore opens the configured mapping store. The caller closes it.
func openStore(ctx context.Context) (*mapping.LayerStore, error) {
	return mapping.OpenLayerStore(ctx, cfg.StorePath)
}

func createVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("canonicalizer %s\n", version)
		},
	}
}
