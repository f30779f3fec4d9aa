package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appserver "github.com/HendryAvila/turnloop/internal/server"
	"github.com/HendryAvila/turnloop/internal/tracing"
)

var httpAddr string

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Start the HTTP API",
	Long: `Serves the job API:

  POST   /v1/turns              submit a turn
  GET    /v1/turns/{id}         poll a turn
  DELETE /v1/turns/{id}         cancel a turn
  POST   /v1/turns/{id}/resume  continue a cancelled turn
  GET    /v1/turns/{id}/events  progress events (websocket)
  GET    /healthz`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		if httpAddr != "" {
			cfg.HTTP.Addr = httpAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, appserver.Version, logger)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		}
		defer flush(shutdownTracing, logger)

		app, err := appserver.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}
		srv := app.HTTP()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err = <-errCh:
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
		}

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(sctx); serr != nil {
			logger.Warn("http shutdown", zap.Error(serr))
		}
		if serr := app.Shutdown(sctx); serr != nil {
			logger.Warn("closing", zap.Error(serr))
		}
		return err
	},
}

func init() {
	httpCmd.Flags().StringVar(&httpAddr, "addr", "", "listen address (overrides http.addr)")
	rootCmd.AddCommand(httpCmd)
}
