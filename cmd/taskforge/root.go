package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "Autonomous task execution engine",
	Long: `taskforge turns a natural-language goal into an execution plan and
runs it step by step with tool adapters, self-verification, and bounded
retries.

Commands:
  serve    Run the HTTP API server
  worker   Run the queue worker loop
  run      Execute a single goal and wait for the result`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML)")
}
