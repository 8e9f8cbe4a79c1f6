package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rankme/internal/rank"
)

var (
	rankAcronym string
	rankTitle   string
	rankYear    int
	rankTimeout time.Duration
)

// rankCmd represents the rank command
var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank a venue against CORE or SCImago",
}

var rankCoreCmd = &cobra.Command{
	Use:   "core [reference]",
	Short: "Rank a conference against the CORE portal",
	Long: `Rank a conference by acronym. The title disambiguates between several
conferences sharing an acronym; when it is omitted and a DBLP reference is
given, the full venue name is resolved from DBLP.

Example:
  rankme rank core --acronym ICSE --year 2018
  rankme rank core db/conf/icse/icse2018.html --acronym ICSE --year 2018`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRank(func(ctx context.Context, a *app) (any, error) {
			return a.core.Rank(ctx, rank.CoreQuery{
				Reference: firstArg(args),
				Acronym:   rankAcronym,
				Title:     rankTitle,
				Year:      rankYear,
			})
		})
	},
}

var rankSJRCmd = &cobra.Command{
	Use:   "sjr [reference]",
	Short: "Rank a journal against the SCImago Journal Rank",
	Long: `Rank a journal by title. When the title is omitted the journal's full name
is resolved from the DBLP reference.

Example:
  rankme rank sjr --title "IEEE Transactions on Software Engineering" --year 2020
  rankme rank sjr db/journals/tse/tse46.html --year 2020`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRank(func(ctx context.Context, a *app) (any, error) {
			return a.sjr.Rank(ctx, rank.SJRQuery{
				Reference: firstArg(args),
				Title:     rankTitle,
				Year:      rankYear,
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)
	rankCmd.AddCommand(rankCoreCmd)
	rankCmd.AddCommand(rankSJRCmd)

	rankCmd.PersistentFlags().StringVar(&rankTitle, "title", "", "venue title")
	rankCmd.PersistentFlags().IntVar(&rankYear, "year", time.Now().Year(), "publication year")
	rankCmd.PersistentFlags().DurationVar(&rankTimeout, "timeout", 2*time.Minute, "overall timeout")
	rankCoreCmd.Flags().StringVar(&rankAcronym, "acronym", "", "conference acronym")
}

// runRank wires the app, runs fn and prints its result as JSON.
func runRank(fn func(ctx context.Context, a *app) (any, error)) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rankTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	v, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
