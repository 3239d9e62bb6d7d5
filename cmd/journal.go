package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"recording-ingest/service"
)

// journal prints a manifest journal written at stop time as JSON.
func journal() *cobra.Command {
	return &cobra.Command{
		Use:   "journal <path>",
		Short: "print a recording manifest journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := service.ReadJournal(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		},
	}
}
