package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rankme/internal/importer"
)

var (
	importMD5       string
	importWorkers   int
	importBatchSize int
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <dblp.xml[.gz]>",
	Short: "Load conference venue names from a DBLP dump",
	Long: `Import scans a local DBLP dump (https://dblp.org/xml/dblp.xml.gz) for
conference proceedings, resolves the full name of every venue not yet in the
store and saves it. Lookups run at background priority, so a running server
sharing the cache keeps answering interactive requests first.

Example:
  rankme import dblp.xml.gz --md5 dblp.xml.gz.md5
  rankme import dblp.xml --workers 8 --batch-size 500`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importMD5, "md5", "", "verify the dump against this md5 file first")
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "concurrent resolvers (overrides importer.workers)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "records per store write (overrides importer.batch_size)")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if importWorkers > 0 {
		cfg.Importer.Workers = importWorkers
	}
	if importBatchSize > 0 {
		cfg.Importer.BatchSize = importBatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	im := importer.New(a.store, a.backgroundResolver(), importer.Options{
		Workers:   cfg.Importer.Workers,
		BatchSize: cfg.Importer.BatchSize,
		MD5File:   importMD5,
	}, logger)

	stats, err := im.Run(ctx, args[0])
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return printJSON(stats)
}
