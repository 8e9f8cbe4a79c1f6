package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var sourceID string

// sourcesCmd represents the sources command
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List ranking catalogue snapshots",
	Long: `List the CORE sources published on the portal and the SCImago years
covered by the configuration. With --source, print one CORE snapshot.

Example:
  rankme sources
  rankme sources --source CORE2023`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRank(func(ctx context.Context, a *app) (any, error) {
			if sourceID != "" {
				return a.coreCatalogue.Source(ctx, sourceID)
			}
			core, err := a.coreCatalogue.Sources(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"core": core, "sjr": a.sjrCatalogue.Sources()}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)

	sourcesCmd.Flags().StringVar(&sourceID, "source", "", "print the entries of one CORE source")
}
