// Package venue resolves DBLP venue references to full venue names.
package venue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/rankme/internal/cache"
	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/store"
	"github.com/ppiankov/rankme/internal/throttle"
)

// FullTitleUnavailable is returned for sub-series headings ("X @ Y")
// that carry no link to the parent venue.
const FullTitleUnavailable = "(full title unavailable)"

// maxDepth bounds cross-reference chains.
const maxDepth = 4

// Fetcher performs rate-limited upstream requests.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts ...throttle.RequestOption) (*throttle.Response, error)
}

// Options configures a Resolver
type Options struct {
	BaseURL        string
	VenueTTL       time.Duration
	UnavailableTTL time.Duration
	Priority       int
}

// Resolver looks venue names up in the cache, then the store, then DBLP.
type Resolver struct {
	opts    Options
	fetcher Fetcher
	cache   cache.Cache
	store   store.VenueStore
	group   singleflight.Group
	logger  zerolog.Logger
	metrics *metrics.Manager
}

// NewResolver creates a new Resolver
func NewResolver(opts Options, f Fetcher, c cache.Cache, s store.VenueStore, logger zerolog.Logger, m *metrics.Manager) *Resolver {
	if opts.Priority == 0 {
		opts.Priority = throttle.PriorityBatch
	}
	return &Resolver{
		opts:    opts,
		fetcher: f,
		cache:   c,
		store:   s,
		logger:  logger.With().Str("component", "venue").Logger(),
		metrics: m,
	}
}

// ResolveFullName returns the venue's full name, or "" when it cannot be
// determined. Failures are logged, never returned.
func (r *Resolver) ResolveFullName(ctx context.Context, ref string) string {
	name, err := r.Resolve(ctx, ref)
	if err != nil {
		r.metrics.Resolution("failed")
		r.logger.Error().Err(err).Str("reference", ref).Msg("venue resolution failed")
		return ""
	}
	return name
}

// Resolve is ResolveFullName with the failure reported. Concurrent calls
// for the same reference share one resolution.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = NormalizeReference(ref)
	if ref == "" {
		return "", errors.New("empty venue reference")
	}

	v, err, _ := r.group.Do(ref, func() (any, error) {
		return r.resolve(ctx, ref, 0)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolve(ctx context.Context, ref string, depth int) (string, error) {
	key := cacheKey(ref)
	if name, ok := cache.GetJSON[string](ctx, r.cache, key); ok {
		r.metrics.Resolution("cache")
		return name, nil
	}

	rec, err := r.store.Find(ctx, ref)
	switch {
	case err == nil:
		if err := cache.SetJSON(ctx, r.cache, key, rec.FullName, r.opts.VenueTTL); err != nil {
			r.logger.Warn().Err(err).Str("reference", ref).Msg("cache backfill failed")
		}
		r.metrics.Resolution("store")
		return rec.FullName, nil
	case !errors.Is(err, store.ErrNotFound):
		r.logger.Warn().Err(err).Str("reference", ref).Msg("venue store lookup failed")
	}

	if depth >= maxDepth {
		return "", fmt.Errorf("%w: cross-reference chain deeper than %d at %s", ErrParse, maxDepth, ref)
	}

	h, err := r.fetchHeading(ctx, ref)
	if err != nil {
		return "", err
	}

	// A cross-reference always wins over the literal heading text.
	if target := NormalizeReference(h.Link); target != "" && target != ref {
		r.logger.Debug().Str("reference", ref).Str("target", target).Msg("following heading link")
		name, err := r.resolve(ctx, target, depth+1)
		if err != nil {
			return "", err
		}
		r.remember(ctx, ref, name)
		return name, nil
	}

	if strings.Contains(h.Text, "@") {
		r.remember(ctx, ref, FullTitleUnavailable)
		return FullTitleUnavailable, nil
	}
	if h.Text == "" {
		return "", fmt.Errorf("%w: empty heading in %s", ErrHeadingNotFound, ref)
	}

	r.metrics.Resolution("upstream")
	r.remember(ctx, ref, h.Text)
	return h.Text, nil
}

func (r *Resolver) fetchHeading(ctx context.Context, ref string) (heading, error) {
	docURL := DocumentURL(r.opts.BaseURL, ref)
	resp, err := r.fetcher.Fetch(ctx, docURL,
		throttle.WithPriority(r.opts.Priority),
		throttle.WithHeader("Accept", "application/xml"))
	if err != nil {
		return heading{}, fmt.Errorf("fetch %s: %w", docURL, err)
	}

	h, err := parseHeading(resp.Body)
	if err != nil {
		return heading{}, fmt.Errorf("%s: %w", docURL, err)
	}
	return h, nil
}

// remember persists a resolved name. The unavailable sentinel is only
// cached, briefly, so a later heading fix is picked up.
func (r *Resolver) remember(ctx context.Context, ref, name string) {
	key := cacheKey(ref)
	if name == FullTitleUnavailable {
		if err := cache.SetJSON(ctx, r.cache, key, name, r.opts.UnavailableTTL); err != nil {
			r.logger.Warn().Err(err).Str("reference", ref).Msg("cache write failed")
		}
		return
	}

	if err := r.store.Save(ctx, model.VenueRecord{Reference: ref, FullName: name}); err != nil {
		r.logger.Warn().Err(err).Str("reference", ref).Msg("venue store write failed")
	}
	if err := cache.SetJSON(ctx, r.cache, key, name, r.opts.VenueTTL); err != nil {
		r.logger.Warn().Err(err).Str("reference", ref).Msg("cache write failed")
	}
}

func cacheKey(ref string) string {
	return cache.Key("venue", ref)
}
