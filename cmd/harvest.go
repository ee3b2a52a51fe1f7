package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/pipeline"
)

// newHarvestCmd creates the 'harvest' subcommand, which runs one pipeline over
// the configured targets.
func newHarvestCmd() *cobra.Command {
	var syncAfter bool
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one harvest over the configured source targets",
		Long: `Fetches every configured target with the bounded worker pool, normalizes
and deduplicates the listings and persists them to the catalog. The run
summary is printed as JSON. With --sync, products missing an embedding are
embedded and indexed afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			report, runErr := appInstance.Harvest(cmd.Context())
			if report != nil {
				if err := writeJSON(cmd.OutOrStdout(), report.Summary()); err != nil {
					return err
				}
			}
			if runErr != nil {
				if errors.Is(runErr, pipeline.ErrNoSuccessfulFetches) {
					logger.Error("harvest produced no data", zap.Error(runErr))
				}
				return fmt.Errorf("harvest: %w", runErr)
			}
			if !syncAfter {
				return nil
			}
			syncReport, err := appInstance.Syncer().SyncMissing(cmd.Context())
			if err != nil {
				return fmt.Errorf("embedding sync: %w", err)
			}
			logger.Info("embedding sync finished",
				zap.Int("embedded", syncReport.Embedded),
				zap.Int("embed_failures", syncReport.EmbedFailures),
				zap.Int("index_failures", syncReport.IndexFailures),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&syncAfter, "sync", false, "embed and index new products after the run")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
