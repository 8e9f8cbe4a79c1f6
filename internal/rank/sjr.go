package rank

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/rankme/internal/cache"
	"github.com/ppiankov/rankme/internal/match"
	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/throttle"
)

// sjrLabels are the SCImago quartiles passed through unchanged.
var sjrLabels = []string{"Q1", "Q2", "Q3", "Q4"}

const sjrSource = "scimagojr"

// SJRCatalogue reads the yearly SCImago journal rank exports.
type SJRCatalogue struct {
	baseURL string
	minYear int
	maxYear int
	fetcher Fetcher
	cache   cache.Cache
	logger  zerolog.Logger
	group   singleflight.Group

	mu        sync.RWMutex
	snapshots map[int]*model.Snapshot
}

// NewSJRCatalogue creates a catalogue covering [minYear, maxYear].
func NewSJRCatalogue(cfg model.SJRConfig, f Fetcher, c cache.Cache, logger zerolog.Logger) *SJRCatalogue {
	return &SJRCatalogue{
		baseURL:   cfg.BaseURL,
		minYear:   cfg.MinYear,
		maxYear:   cfg.MaxYear,
		fetcher:   f,
		cache:     c,
		logger:    logger.With().Str("component", "sjr").Logger(),
		snapshots: make(map[int]*model.Snapshot),
	}
}

// Sources lists one snapshot per covered year.
func (c *SJRCatalogue) Sources() []model.SnapshotRef {
	var refs []model.SnapshotRef
	for y := c.minYear; y <= c.maxYear; y++ {
		refs = append(refs, sjrRef(y))
	}
	return refs
}

// Clamp restricts year to the covered range.
func (c *SJRCatalogue) Clamp(year int) int {
	return min(max(year, c.minYear), c.maxYear)
}

// Snapshot returns the ranking published for year, after clamping.
func (c *SJRCatalogue) Snapshot(ctx context.Context, year int) (*model.Snapshot, error) {
	return c.snapshot(ctx, c.Clamp(year), throttle.PriorityInteractive)
}

// Load fetches every covered year ahead of the first query.
func (c *SJRCatalogue) Load(ctx context.Context) error {
	for y := c.minYear; y <= c.maxYear; y++ {
		c.logger.Info().Int("year", y).Msg("loading sjr snapshot")
		if _, err := c.snapshot(ctx, y, throttle.PriorityBackground); err != nil {
			return err
		}
	}
	return nil
}

func (c *SJRCatalogue) snapshot(ctx context.Context, year int, priority int) (*model.Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[year]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}

	key := cache.Key("sjr", "snapshot", strconv.Itoa(year))
	v, err, _ := c.group.Do(key, func() (any, error) {
		entries, ok := cache.GetJSON[[]model.RankingEntry](ctx, c.cache, key)
		if !ok {
			exportURL := fmt.Sprintf("%s?out=xls&year=%d", c.baseURL, year)
			resp, err := c.fetcher.Fetch(ctx, exportURL, throttle.WithPriority(priority))
			if err != nil {
				return nil, fmt.Errorf("fetch sjr %d: %w", year, err)
			}
			entries, err = parseSJRExport(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("parse sjr %d: %w", year, err)
			}
			if err := cache.SetJSON(ctx, c.cache, key, entries, 0); err != nil {
				c.logger.Warn().Err(err).Msg("cache write failed")
			}
		}
		snap := &model.Snapshot{SnapshotRef: sjrRef(year), Entries: entries}
		c.mu.Lock()
		c.snapshots[year] = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Snapshot), nil
}

func sjrRef(year int) model.SnapshotRef {
	return model.SnapshotRef{Year: year, Source: fmt.Sprintf("%s:%d", sjrSource, year)}
}

// parseSJRExport reads a ';'-separated SCImago export with a header row.
// Rows without a title are dropped.
func parseSJRExport(body []byte) ([]model.RankingEntry, error) {
	rows, err := readRecords(bytes.NewReader(body), ';')
	if err != nil {
		return nil, err
	}
	entries := make([]model.RankingEntry, 0, len(rows))
	for _, row := range rows {
		if row["Title"] == "" {
			continue
		}
		entries = append(entries, model.RankingEntry{
			ID:    row["Sourceid"],
			Title: row["Title"],
			Rank:  row["SJR Best Quartile"],
		})
	}
	return entries, nil
}

// SJRQuery identifies a journal by DBLP reference or by title.
type SJRQuery struct {
	Reference string
	Title     string
	Year      int
}

// SJREngine ranks journals by title only.
type SJREngine struct {
	catalogue   *SJRCatalogue
	resolver    NameResolver
	cache       cache.Cache
	rankTTL     time.Duration
	maxDistance int
	group       singleflight.Group
	logger      zerolog.Logger
	metrics     *metrics.Manager
}

// NewSJREngine creates a new SJREngine. Candidates further than
// maxDistance from the query title are discarded.
func NewSJREngine(catalogue *SJRCatalogue, resolver NameResolver, c cache.Cache, rankTTL time.Duration, maxDistance int, logger zerolog.Logger, m *metrics.Manager) *SJREngine {
	return &SJREngine{
		catalogue:   catalogue,
		resolver:    resolver,
		cache:       c,
		rankTTL:     rankTTL,
		maxDistance: maxDistance,
		logger:      logger.With().Str("component", "sjr").Logger(),
		metrics:     m,
	}
}

// Rank returns the SCImago verdict for q. Only a missing year or venue is
// an error; upstream failures produce an uncached QU verdict.
func (e *SJREngine) Rank(ctx context.Context, q SJRQuery) (model.Verdict, error) {
	if q.Year <= 0 {
		return model.Verdict{}, fmt.Errorf("%w: missing query parameter year", ErrBadRequest)
	}
	if q.Reference == "" && q.Title == "" {
		return model.Verdict{}, fmt.Errorf("%w: missing journal reference or title", ErrBadRequest)
	}

	ref, _ := SelectSnapshot(e.catalogue.Sources(), e.catalogue.Clamp(q.Year))

	title := q.Title
	if title == "" && e.resolver != nil {
		title = e.resolver.ResolveFullName(ctx, q.Reference)
	}
	if len(match.Normalize(title)) == 0 {
		// Unresolved venue; do not pin the failure in the cache.
		return unranked(LabelQU, "No ranking found in "+ref.Source), nil
	}

	key := cache.Key("rank", "sjr", ref.Source, title)
	if v, ok := cache.GetJSON[model.Verdict](ctx, e.cache, key); ok {
		return v, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		snap, err := e.catalogue.snapshot(ctx, ref.Year, throttle.PriorityInteractive)
		if err != nil {
			return nil, err
		}
		verdict := e.compute(snap, title)
		if err := cache.SetJSON(ctx, e.cache, key, verdict, e.rankTTL); err != nil {
			e.logger.Warn().Err(err).Msg("cache write failed")
		}
		return verdict, nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("source", ref.Source).Msg("sjr snapshot unavailable")
		return unranked(LabelQU, msgUnavailable), nil
	}

	verdict := v.(model.Verdict)
	e.metrics.Verdict("sjr", verdict.Value)
	return verdict, nil
}

func (e *SJREngine) compute(snap *model.Snapshot, title string) model.Verdict {
	cands := score(snap.Entries, match.Normalize(title), e.maxDistance)
	if len(cands) == 0 {
		return unranked(LabelQU, "No ranking found in "+snap.Source)
	}

	b := best(cands)
	exact := len(cands) == 1
	rank := strings.TrimSpace(b.entry.Rank)
	switch {
	case slices.Contains(sjrLabels, rank):
		return model.Verdict{
			Value: rank,
			Msg:   fmt.Sprintf("Best match with %q (distance=%d)", b.entry.Title, b.score),
			Exact: exact,
			Score: b.score,
		}
	case rank == "" || rank == "-":
		return model.Verdict{Value: LabelQU, Msg: "No ranking found in " + snap.Source, Exact: exact, Score: b.score}
	default:
		return model.Verdict{
			Value: LabelMisc,
			Msg:   fmt.Sprintf("Ranked as %s in %s", rank, snap.Source),
			Exact: exact,
			Score: b.score,
		}
	}
}
