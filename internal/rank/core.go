package rank

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/rankme/internal/cache"
	"github.com/ppiankov/rankme/internal/match"
	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/throttle"
)

// coreLabels are the CORE ranks passed through unchanged.
var coreLabels = []string{"A*", "A", "B", "C"}

var yearRe = regexp.MustCompile(`\d+`)

// CoreCatalogue reads the CORE conference portal: the list of published
// sources and each source's ranking export.
type CoreCatalogue struct {
	baseURL    string
	fetcher    Fetcher
	cache      cache.Cache
	sourcesTTL time.Duration
	logger     zerolog.Logger
	group      singleflight.Group

	mu        sync.RWMutex
	snapshots map[string]*model.Snapshot
}

// NewCoreCatalogue creates a new CoreCatalogue
func NewCoreCatalogue(baseURL string, f Fetcher, c cache.Cache, sourcesTTL time.Duration, logger zerolog.Logger) *CoreCatalogue {
	return &CoreCatalogue{
		baseURL:    strings.TrimRight(baseURL, "/"),
		fetcher:    f,
		cache:      c,
		sourcesTTL: sourcesTTL,
		logger:     logger.With().Str("component", "core").Logger(),
		snapshots:  make(map[string]*model.Snapshot),
	}
}

// Sources lists the published ranking sources, one entry per year
// mentioned in the source name.
func (c *CoreCatalogue) Sources(ctx context.Context) ([]model.SnapshotRef, error) {
	return c.sources(ctx, throttle.PriorityInteractive)
}

func (c *CoreCatalogue) sources(ctx context.Context, priority int) ([]model.SnapshotRef, error) {
	key := cache.Key("core", "sources")
	if refs, ok := cache.GetJSON[[]model.SnapshotRef](ctx, c.cache, key); ok {
		return refs, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := c.fetcher.Fetch(ctx, c.baseURL+"/", throttle.WithPriority(priority))
		if err != nil {
			return nil, fmt.Errorf("fetch core sources: %w", err)
		}
		refs, err := parseCoreSources(resp.Body)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return nil, fmt.Errorf("core sources page lists no sources")
		}
		if err := cache.SetJSON(ctx, c.cache, key, refs, c.sourcesTTL); err != nil {
			c.logger.Warn().Err(err).Msg("cache write failed")
		}
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.SnapshotRef), nil
}

// Source returns the ranking snapshot published as id.
func (c *CoreCatalogue) Source(ctx context.Context, id string) (*model.Snapshot, error) {
	refs, err := c.Sources(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(refs, func(r model.SnapshotRef) bool { return r.Source == id })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return c.snapshot(ctx, refs[i], throttle.PriorityInteractive)
}

// Load fetches every published source ahead of the first query.
func (c *CoreCatalogue) Load(ctx context.Context) error {
	refs, err := c.sources(ctx, throttle.PriorityBackground)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, ref := range refs {
		if seen[ref.Source] {
			continue
		}
		seen[ref.Source] = true
		c.logger.Info().Str("source", ref.Source).Msg("loading core source")
		if _, err := c.snapshot(ctx, ref, throttle.PriorityBackground); err != nil {
			return err
		}
	}
	return nil
}

func (c *CoreCatalogue) snapshot(ctx context.Context, ref model.SnapshotRef, priority int) (*model.Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[ref.Source]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}

	key := cache.Key("core", "source", ref.Source)
	v, err, _ := c.group.Do(key, func() (any, error) {
		entries, ok := cache.GetJSON[[]model.RankingEntry](ctx, c.cache, key)
		if !ok {
			exportURL := c.baseURL + "/?search=&by=all&do=Export&source=" + url.QueryEscape(ref.Source)
			resp, err := c.fetcher.Fetch(ctx, exportURL, throttle.WithPriority(priority))
			if err != nil {
				return nil, fmt.Errorf("fetch core source %s: %w", ref.Source, err)
			}
			entries, err = parseCoreExport(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("parse core source %s: %w", ref.Source, err)
			}
			// Published snapshots never change.
			if err := cache.SetJSON(ctx, c.cache, key, entries, 0); err != nil {
				c.logger.Warn().Err(err).Msg("cache write failed")
			}
		}
		snap := &model.Snapshot{SnapshotRef: ref, Entries: entries}
		c.mu.Lock()
		c.snapshots[ref.Source] = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Snapshot), nil
}

// parseCoreSources reads the <select name="source"> options of the portal
// front page. "All" is skipped; each 4-digit number is a snapshot year.
func parseCoreSources(page []byte) ([]model.SnapshotRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse core sources page: %w", err)
	}

	var refs []model.SnapshotRef
	doc.Find("select[name=source] option").Each(func(_ int, opt *goquery.Selection) {
		source := strings.TrimSpace(opt.Text())
		if source == "" || source == "All" {
			return
		}
		for _, m := range yearRe.FindAllString(source, -1) {
			if len(m) != 4 {
				continue
			}
			year, _ := strconv.Atoi(m)
			refs = append(refs, model.SnapshotRef{Year: year, Source: source})
		}
	})
	return refs, nil
}

// parseCoreExport reads a headerless CORE CSV export.
func parseCoreExport(body []byte) ([]model.RankingEntry, error) {
	rows, err := readRecords(withHeader(coreHeader, body), ',')
	if err != nil {
		return nil, err
	}
	entries := make([]model.RankingEntry, 0, len(rows))
	for _, row := range rows {
		if row["id"] == "" {
			continue
		}
		entries = append(entries, model.RankingEntry{
			ID:      row["id"],
			Title:   row["title"],
			Acronym: strings.ToUpper(row["acronym"]),
			Rank:    row["rank"],
		})
	}
	return entries, nil
}

// CoreQuery identifies a conference. Title may be left empty when
// Reference is set; the resolver then supplies the full name.
type CoreQuery struct {
	Reference string
	Acronym   string
	Title     string
	Year      int
}

// CoreEngine ranks conferences by acronym, disambiguated by title.
type CoreEngine struct {
	catalogue   *CoreCatalogue
	resolver    NameResolver
	cache       cache.Cache
	rankTTL     time.Duration
	maxDistance int
	group       singleflight.Group
	logger      zerolog.Logger
	metrics     *metrics.Manager
}

// NewCoreEngine creates a new CoreEngine. A negative maxDistance disables
// the distance cut-off.
func NewCoreEngine(catalogue *CoreCatalogue, resolver NameResolver, c cache.Cache, rankTTL time.Duration, maxDistance int, logger zerolog.Logger, m *metrics.Manager) *CoreEngine {
	return &CoreEngine{
		catalogue:   catalogue,
		resolver:    resolver,
		cache:       c,
		rankTTL:     rankTTL,
		maxDistance: maxDistance,
		logger:      logger.With().Str("component", "core").Logger(),
		metrics:     m,
	}
}

// Rank returns the CORE verdict for q. Only a missing year or acronym is
// an error; upstream failures produce an uncached Unranked verdict.
func (e *CoreEngine) Rank(ctx context.Context, q CoreQuery) (model.Verdict, error) {
	acronym := strings.ToUpper(strings.TrimSpace(q.Acronym))
	if q.Year <= 0 || acronym == "" {
		return model.Verdict{}, fmt.Errorf("%w: missing query parameters year and/or acronym", ErrBadRequest)
	}

	refs, err := e.catalogue.Sources(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("core sources unavailable")
		return unranked(LabelUnranked, msgUnavailable), nil
	}
	ref, _ := SelectSnapshot(refs, q.Year)

	title := q.Title
	if title == "" && q.Reference != "" && e.resolver != nil {
		title = e.resolver.ResolveFullName(ctx, q.Reference)
	}

	key := cache.Key("rank", "core", ref.Source, acronym, title)
	if v, ok := cache.GetJSON[model.Verdict](ctx, e.cache, key); ok {
		return v, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		snap, err := e.catalogue.snapshot(ctx, ref, throttle.PriorityInteractive)
		if err != nil {
			return nil, err
		}
		verdict := e.compute(snap, acronym, title)
		if err := cache.SetJSON(ctx, e.cache, key, verdict, e.rankTTL); err != nil {
			e.logger.Warn().Err(err).Msg("cache write failed")
		}
		return verdict, nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("source", ref.Source).Msg("core source unavailable")
		return unranked(LabelUnranked, msgUnavailable), nil
	}

	verdict := v.(model.Verdict)
	e.metrics.Verdict("core", verdict.Value)
	return verdict, nil
}

func (e *CoreEngine) compute(snap *model.Snapshot, acronym, title string) model.Verdict {
	tokens := match.Normalize(title)

	var candidates []model.RankingEntry
	for _, entry := range snap.Entries {
		if entry.Acronym == acronym {
			candidates = append(candidates, entry)
		}
	}

	if len(candidates) == 0 {
		// Fall back to an exact title match anywhere in the catalogue,
		// regardless of acronym.
		if len(tokens) > 0 {
			for _, entry := range snap.Entries {
				if match.Distance(match.Normalize(entry.Title), tokens) == 0 {
					return e.label(entry.Rank, snap.Source, false, 0)
				}
			}
		}
		return unranked(LabelUnranked, "No ranking found in "+snap.Source)
	}

	scoredCands := score(candidates, tokens, e.maxDistance)
	if len(scoredCands) == 0 {
		return unranked(LabelUnranked, "No ranking found in "+snap.Source)
	}
	b := best(scoredCands)
	return e.label(b.entry.Rank, snap.Source, len(candidates) == 1, b.score)
}

func (e *CoreEngine) label(rank, source string, exact bool, score int) model.Verdict {
	if slices.Contains(coreLabels, rank) {
		return model.Verdict{Value: rank, Msg: source, Exact: exact, Score: score}
	}
	return model.Verdict{Value: LabelMisc, Msg: fmt.Sprintf("Ranked as %s in %s", rank, source), Exact: exact, Score: score}
}
