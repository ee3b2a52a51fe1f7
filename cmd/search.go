package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	var (
		limit     int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Finds catalog products semantically similar to the given text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			matches, err := appInstance.Search(cmd.Context(), strings.Join(args, " "), limit, threshold)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tSKU\tNAME\tPRICE")
			for _, m := range matches {
				fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\n", m.Score, m.Payload.AdquifySKU, m.Payload.Name, m.Payload.Price)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of matches")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum cosine similarity")
	return cmd
}
