package cmd

import (
	"github.com/spf13/cobra"
	"recording-ingest/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recorder",
		Short: "screen recording ingest and encode service",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(captureCmd(config))
	rootCmd.AddCommand(migrateCmd(config))
	rootCmd.AddCommand(journal())
	return rootCmd
}
