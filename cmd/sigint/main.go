package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sigint",
		Short:         "Filter, rank and correlate news and social signals into dashboard panels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file loaded before the config")

	root.AddCommand(reportCmd())
	root.AddCommand(editorCmd())
	root.AddCommand(signalsCmd())
	root.AddCommand(narrativeCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func reportCmd() *cobra.Command {
	var (
		categories []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch, filter and rank news for one or more categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), categories, jsonOutput)
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to report (default: all configured)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output run results as JSON")
	return cmd
}

func editorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "editor",
		Short: "Promote confirmed breaking items to the breaking panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEditor(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output run results as JSON")
	return cmd
}

func signalsCmd() *cobra.Command {
	var (
		categories []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Ingest recent posts from tracked X accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignals(cmd.Context(), categories, jsonOutput)
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to ingest (default: all with accounts)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output run results as JSON")
	return cmd
}

func narrativeCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "narrative",
		Short: "Detect cross-source narratives and signal correlations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNarrative(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output run results as JSON")
	return cmd
}

func cleanupCmd() *cobra.Command {
	var (
		retentionDays int
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete archived items older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), retentionDays, dryRun)
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "days to keep, 7-365 (default: from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report what would be deleted")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current panels and narratives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
