package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// venueCmd represents the venue command
var venueCmd = &cobra.Command{
	Use:   "venue <reference>",
	Short: "Resolve a DBLP venue reference to its full name",
	Long: `Resolve a DBLP venue reference such as db/conf/icse/icse2018.html to the
full name of the venue series, following cross references where DBLP lists
the venue under a parent series.

Example:
  rankme venue db/conf/icse/icse2018.html`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRank(func(ctx context.Context, a *app) (any, error) {
			name, err := a.resolver.Resolve(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return map[string]string{"reference": args[0], "fullName": name}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(venueCmd)
}
