package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	rootCmd    = &cobra.Command{
		Use:   "boardwatch",
		Short: "boardwatch - Jira board watcher for test automation",
		Long: `boardwatch watches a Jira board, detects cards entering the "In Progress"
and "QA" columns, and asks the automation backend to suggest test scenarios
or run tests for them, once per card and session.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
