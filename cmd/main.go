// Package main provides the draftwatch CLI: the integrity service plus the
// scoring, aggregation and simulation tools that run against the same store.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/okian/draftwatch/pkg/logger"
)

func main() {
	// Our own registry carries the system gauges; drop the default collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "draftwatch",
		Short: "Collusion detection for drafting sessions",
		Long: "draftwatch tracks pick proximity during drafting sessions, scores " +
			"completed sessions for collusion and aggregates pair histories across sessions.\n\n" +
			"Configuration is read from the YAML file named by DRAFTWATCH_CONFIG and from " +
			"DRAFTWATCH_* environment variables (use __ for nesting, e.g. DRAFTWATCH_SERVER__ADDR).",
		SilenceUsage: true,
		RunE:         runServeCmd,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newRescoreCmd())
	rootCmd.AddCommand(newAggregateCmd())
	rootCmd.AddCommand(newSimulateCmd())

	return rootCmd
}
