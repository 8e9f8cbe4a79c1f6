// Package api exposes the rank engines, the venue resolver and the DBLP
// client over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ppiankov/rankme/internal/dblp"
	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/rank"
)

// CoreRanker ranks conferences.
type CoreRanker interface {
	Rank(ctx context.Context, q rank.CoreQuery) (model.Verdict, error)
}

// SJRRanker ranks journals.
type SJRRanker interface {
	Rank(ctx context.Context, q rank.SJRQuery) (model.Verdict, error)
}

// CoreSources lists the CORE catalogue.
type CoreSources interface {
	Sources(ctx context.Context) ([]model.SnapshotRef, error)
	Source(ctx context.Context, id string) (*model.Snapshot, error)
}

// VenueResolver maps a venue reference to its full name.
type VenueResolver interface {
	ResolveFullName(ctx context.Context, ref string) string
}

// Authors searches and fetches DBLP authors.
type Authors interface {
	SearchAuthor(ctx context.Context, q string) ([]dblp.AuthorHit, error)
	FetchAuthor(ctx context.Context, pid string) (*dblp.Person, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Core    CoreRanker
	SJR     SJRRanker
	Sources CoreSources
	Venues  VenueResolver
	Authors Authors
	Metrics *metrics.Manager
}

// NewRouter wires the routes, CORS and request logging.
func NewRouter(cfg model.ServerConfig, d Deps, logger zerolog.Logger) http.Handler {
	h := &handler{deps: d, logger: logger.With().Str("component", "api").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Get("/rank/core/*", h.rankCore)
	r.Get("/rank/sjr/*", h.rankSJR)
	r.Get("/venue/*", h.venue)

	r.Get("/core/sources", h.coreSources)
	r.Get("/core/source/{id}", h.coreSource)

	r.Get("/dblp/search/author/{query}", h.searchAuthor)
	r.Get("/dblp/author/*", h.fetchAuthor)

	return r
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(cfg model.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
