package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ppiankov/rankme/internal/cache"
	"github.com/ppiankov/rankme/internal/dblp"
	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/rank"
	"github.com/ppiankov/rankme/internal/store"
	"github.com/ppiankov/rankme/internal/throttle"
	"github.com/ppiankov/rankme/internal/venue"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg     *model.Config
	logger  zerolog.Logger
	metrics *metrics.Manager

	fetcher  *throttle.Client
	cache    cache.Cache
	store    store.VenueStore
	resolver *venue.Resolver

	coreCatalogue *rank.CoreCatalogue
	sjrCatalogue  *rank.SJRCatalogue
	core          *rank.CoreEngine
	sjr           *rank.SJREngine
	authors       *dblp.Client
}

func newApp(ctx context.Context, cfg *model.Config, logger zerolog.Logger) (*app, error) {
	m := metrics.NewManager(metrics.WithProcessCollectors())

	c, err := cache.New(cfg.Cache, logger, m)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open venue store: %w", err)
	}

	fetcher := throttle.New(cfg.HTTP, cfg.Throttle, logger, m)
	resolver := venue.NewResolver(venue.Options{
		BaseURL:        cfg.DBLP.BaseURL,
		VenueTTL:       cfg.Cache.VenueTTL,
		UnavailableTTL: cfg.Cache.UnavailableTTL,
		Priority:       throttle.PriorityBatch,
	}, fetcher, c, s, logger, m)

	coreCatalogue := rank.NewCoreCatalogue(cfg.Core.BaseURL, fetcher, c, cfg.Cache.SourcesTTL, logger)
	sjrCatalogue := rank.NewSJRCatalogue(cfg.SJR, fetcher, c, logger)

	return &app{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		fetcher:       fetcher,
		cache:         c,
		store:         s,
		resolver:      resolver,
		coreCatalogue: coreCatalogue,
		sjrCatalogue:  sjrCatalogue,
		core:          rank.NewCoreEngine(coreCatalogue, resolver, c, cfg.Cache.RankTTL, cfg.Core.MaxDistance, logger, m),
		sjr:           rank.NewSJREngine(sjrCatalogue, resolver, c, cfg.Cache.RankTTL, cfg.SJR.MaxDistance, logger, m),
		authors:       dblp.NewClient(cfg.DBLP.BaseURL, fetcher, c, cfg.Cache.AuthorTTL, logger),
	}, nil
}

// backgroundResolver resolves at the lowest priority, for bulk work that
// must not delay interactive lookups.
func (a *app) backgroundResolver() *venue.Resolver {
	return venue.NewResolver(venue.Options{
		BaseURL:        a.cfg.DBLP.BaseURL,
		VenueTTL:       a.cfg.Cache.VenueTTL,
		UnavailableTTL: a.cfg.Cache.UnavailableTTL,
		Priority:       throttle.PriorityBackground,
	}, a.fetcher, a.cache, a.store, a.logger, a.metrics)
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.cache.Close())
}
