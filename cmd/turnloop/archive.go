package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	appserver "github.com/HendryAvila/turnloop/internal/server"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move turns older than store.archive_after to the cold tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		app, err := appserver.New(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()

		n, err := app.Archiver.Age(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("archived %s turns older than %s\n", humanize.Comma(int64(n)), cfg.Store.ArchiveAfter)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
