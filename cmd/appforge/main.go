// Package main provides the appforge CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configPath string

func main() {
	// Signal-aware context for graceful shutdown; a second signal
	// restores default handling and force-exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "appforge",
		Short: "LLM application generator with self-healing execution",
		Long: `appforge decomposes an application requirement into a task graph and
drives it through LLM providers with retries, circuit breakers and
provider fallback. Every state change is checkpointed, so interrupted
generations resume without repeating finished work.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")

	rootCmd.AddCommand(
		planCmd(),
		runCmd(),
		resumeCmd(),
		statusCmd(),
		generationsCmd(),
		providersCmd(),
		configCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
