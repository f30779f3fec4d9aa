package main

import (
	"fmt"

	"github.com/spf13/cobra"

	appserver "github.com/HendryAvila/turnloop/internal/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of turnloop",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("turnloop %s\n", appserver.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
