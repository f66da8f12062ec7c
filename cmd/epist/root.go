package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "epist",
	Short: "A diagnostic reasoning pipeline runner",
	Long: `Epist drives clinical cases through a multi-phase diagnostic reasoning
pipeline (abstraction, abduction, ranking, deduction, induction) backed
by an Ollama-compatible model endpoint, and records every step of the
run for audit.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
