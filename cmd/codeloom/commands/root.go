// Package commands provides the CLI commands for codeloom.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom/internal/config"
	"github.com/codeloom-ai/codeloom/internal/logging"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	logLevel string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "codeloom",
	Short: "codeloom - LLM request engine for code assistants",
	Long: `codeloom issues requests to pluggable LLM backends: it bounds
concurrency, caches repeated requests, streams token output, and drives
tool-calling sessions.

Run 'codeloom run "prompt"' for a one-off exchange, or 'codeloom models'
to list the configured model catalog.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("codeloom %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(modelsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration for the current directory and initializes
// logging from it.
func loadConfig() (*types.Config, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: prettyLogs,
	})

	return cfg, nil
}
