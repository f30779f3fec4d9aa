// turnloop answers questions turn by turn: it resolves follow-ups against
// the conversation, plans tool calls, writes a cited answer, checks it
// against the evidence, and remembers what worked.
//
// Usage:
//
//	turnloop serve          # MCP server (stdio transport)
//	turnloop http           # HTTP API with websocket progress
//	turnloop ask "question" # one turn in the terminal
//	turnloop archive        # move old turns to the cold tier
//	turnloop config init    # write the default config file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/config"
	"github.com/HendryAvila/turnloop/internal/logging"
)

var (
	cfgFile string
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "turnloop",
	Short: "Plan, answer and verify questions with tools and long-term memory",
	Long: `turnloop runs each question through a fixed pipeline: resolve the query
against recent turns, ask for clarification when it is ambiguous, gather
context from memory, plan and run tool calls, synthesize a cited answer,
validate it, and archive the turn so later turns can build on it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with TURNLOOP_* overrides")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config and builds the logger for a command.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
