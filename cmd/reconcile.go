package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newReconcileCmd creates the 'reconcile' subcommand.
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Restores an empty vector index from embeddings cached in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Reconcile(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconcile index: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}
