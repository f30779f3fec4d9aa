package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appserver "github.com/HendryAvila/turnloop/internal/server"
	"github.com/HendryAvila/turnloop/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Long: `Starts the MCP server on stdin/stdout. Add it to your MCP client config:

  {
    "mcpServers": {
      "turnloop": {
        "command": "turnloop",
        "args": ["serve"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		shutdownTracing, err := tracing.Init(cmd.Context(), cfg.Tracing, appserver.Version, logger)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		}
		defer flush(shutdownTracing, logger)

		app, err := appserver.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Warn("closing", zap.Error(err))
			}
		}()

		logger.Info("mcp server starting", zap.String("version", appserver.Version), zap.String("data_dir", cfg.DataDir))
		return server.ServeStdio(app.MCP())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// flush gives the tracer a few seconds to export buffered spans.
func flush(shutdown tracing.Shutdown, logger *zap.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
