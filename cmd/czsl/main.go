// Package main provides the CLI entry point for czsl.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/universome/czsl/cmd/czsl/commands"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "czsl",
	Short: "Continual learning experiment runner",
	Long: `czsl trains classifiers over sequences of tasks without forgetting
earlier ones.

It provides:
  - An EWC trainer with diagonal-Fisher synaptic regularization
  - A generative-memory trainer (adversarial latent generator + distillation)
  - Output masking over task-incremental class splits
  - SQLite-backed metrics recording and inspection`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(commands.TrainCmd)
	rootCmd.AddCommand(commands.MetricsCmd)
}
