package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newEmbedCmd creates the 'embed' subcommand.
func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Embeds and indexes products that have no cached embedding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Syncer().SyncMissing(cmd.Context())
			if err != nil {
				return fmt.Errorf("embedding sync: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}
