package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	homeFlag       string
	logLevelFlag   string
	logFileFlag    string
	logJournalFlag bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Intent routing, guarded tool execution and trace feedback for system requests",
		Long: `Sentinel classifies each natural-language request, routes it to the best
	eligible model backend, optionally runs a system tool under privilege,
	schema and sandbox checks, and records every decision in a trace ledger
	that collects rewards for later policy improvement.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "config directory (default $SENTINEL_HOME or ~/.sentinel)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&logJournalFlag, "log-journal", false, "also send logs to the systemd journal")

	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(dryRunCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(tracesCmd())
	rootCmd.AddCommand(feedbackCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
