package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rankme/internal/api"
)

var (
	serveAddr string
	preload   bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rank verdicts over HTTP",
	Long: `Serve starts the HTTP API:

  GET /rank/core/<reference>?acronym=&year=[&title=]
  GET /rank/sjr/<reference>?year=         (or ?title=&year=)
  GET /venue/<reference>
  GET /core/sources, /core/source/<id>
  GET /dblp/search/author/<query>, /dblp/author/<pid>
  GET /healthz, /metrics

Example:
  rankme serve --addr :8080 --preload`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&preload, "preload", false, "fetch all ranking catalogues in the background at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if preload {
		go func() {
			if err := a.coreCatalogue.Load(ctx); err != nil {
				logger.Warn().Err(err).Msg("core preload failed")
			}
			if err := a.sjrCatalogue.Load(ctx); err != nil {
				logger.Warn().Err(err).Msg("sjr preload failed")
			}
		}()
	}

	router := api.NewRouter(cfg.Server, api.Deps{
		Core:    a.core,
		SJR:     a.sjr,
		Sources: a.coreCatalogue,
		Venues:  a.resolver,
		Authors: a.authors,
		Metrics: a.metrics,
	}, logger)
	srv := api.NewServer(cfg.Server, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
