// Command neatevolve evolves neural networks with NEAT on the XOR task, records runs in
// SQLite, and inspects checkpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "neatevolve",
		Short: "Evolve neural networks with NEAT",
		Long: `neatevolve runs NeuroEvolution of Augmenting Topologies on the XOR task.

Runs can be checkpointed and resumed, and every epoch can be recorded
in a SQLite database for later inspection.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newInspectCmd(),
	)
	return rootCmd
}
