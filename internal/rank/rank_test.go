package rank

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rankme/internal/cache"
	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/throttle"
)

const corePage = `<html><body><form>
<select name="source">
  <option value="all">All</option>
  <option>CORE2022</option>
  <option>CORE2020</option>
  <option>CORE2018</option>
</select>
</form></body></html>`

const core2018 = `1,International Conference on Software Engineering,ICSE,CORE2018,A*,Yes,,,4612
2,Foo Bar Systems,FBS,CORE2018,B,No,,,4606
3,Foo Bar Symposium,FBS,CORE2018,C,No,,,4606
4,Workshop on Quux,quux,CORE2018,National: USA,No,,,4606
5,Unique Title Conference,UTC,CORE2018,A,No,,,4606
6,Tie Alpha,TIE,CORE2018,A,No,,,4606
7,Tie Beta,TIE,CORE2018,B,No,,,4606
,,,,,,,,
`

// fakeUpstream counts requests by raw query.
type fakeUpstream struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
	fail bool
}

func (f *fakeUpstream) Hits(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[query]
}

func (f *fakeUpstream) SetFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func newFakeUpstream(t *testing.T, serve func(w http.ResponseWriter, r *http.Request)) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{hits: make(map[string]int)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.RawQuery]++
		fail := f.fail
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		serve(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func newCorePortal(t *testing.T) *fakeUpstream {
	return newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("do") != "Export" {
			_, _ = fmt.Fprint(w, corePage)
			return
		}
		switch r.URL.Query().Get("source") {
		case "CORE2018":
			_, _ = fmt.Fprint(w, core2018)
		case "CORE2020":
			_, _ = fmt.Fprint(w, "1,International Conference on Software Engineering,ICSE,CORE2020,A,Yes,,,4612\n")
		case "CORE2022":
			_, _ = fmt.Fprint(w, "1,International Conference on Software Engineering,ICSE,CORE2022,B,Yes,,,4612\n")
		default:
			http.NotFound(w, r)
		}
	})
}

type mapResolver map[string]string

func (m mapResolver) ResolveFullName(_ context.Context, ref string) string { return m[ref] }

func newTestFetcher() *throttle.Client {
	cfg := model.DefaultConfig()
	return throttle.New(cfg.HTTP, cfg.Throttle, zerolog.Nop(), nil)
}

func newCoreEngine(t *testing.T, portal *fakeUpstream, resolver NameResolver) *CoreEngine {
	t.Helper()
	c := cache.NewMemoryCache(time.Minute)
	catalogue := NewCoreCatalogue(portal.URL, newTestFetcher(), c, time.Hour, zerolog.Nop())
	return NewCoreEngine(catalogue, resolver, c, time.Hour, -1, zerolog.Nop(), nil)
}

func TestSelectSnapshot(t *testing.T) {
	refs := []model.SnapshotRef{
		{Year: 2020, Source: "S2020"},
		{Year: 2018, Source: "S2018"},
		{Year: 2022, Source: "S2022"},
	}

	tests := []struct {
		year int
		want string
	}{
		{2019, "S2018"},
		{2020, "S2020"},
		{2025, "S2022"},
		{2010, "S2018"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.year), func(t *testing.T) {
			got, ok := SelectSnapshot(refs, tt.year)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Source)
		})
	}

	_, ok := SelectSnapshot(nil, 2020)
	assert.False(t, ok)
}

func TestCoreEngine_Verdicts(t *testing.T) {
	portal := newCorePortal(t)
	engine := newCoreEngine(t, portal, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		query CoreQuery
		want  model.Verdict
	}{
		{
			name:  "single candidate is exact",
			query: CoreQuery{Acronym: "icse", Title: "International Conference on Software Engineering", Year: 2019},
			want:  model.Verdict{Value: "A*", Msg: "CORE2018", Exact: true, Score: 0},
		},
		{
			name:  "single candidate keeps its distance",
			query: CoreQuery{Acronym: "ICSE", Title: "Software Engineering in Practice", Year: 2018},
			want:  model.Verdict{Value: "A*", Msg: "CORE2018", Exact: true, Score: 1},
		},
		{
			name:  "multiple candidates pick the closest title",
			query: CoreQuery{Acronym: "FBS", Title: "ACM Symposium on Foo Bar", Year: 2018},
			want:  model.Verdict{Value: "C", Msg: "CORE2018", Exact: false, Score: 0},
		},
		{
			name:  "tie goes to the first entry",
			query: CoreQuery{Acronym: "TIE", Title: "Tie Gamma", Year: 2018},
			want:  model.Verdict{Value: "A", Msg: "CORE2018", Exact: false, Score: 1},
		},
		{
			name:  "unknown rank is misc",
			query: CoreQuery{Acronym: "QUUX", Title: "Quux", Year: 2018},
			want:  model.Verdict{Value: "Misc", Msg: "Ranked as National: USA in CORE2018", Exact: true, Score: 0},
		},
		{
			name:  "no acronym and no title match",
			query: CoreQuery{Acronym: "NOPE", Title: "Nothing Like It", Year: 2018},
			want:  model.Verdict{Value: "Unranked", Msg: "No ranking found in CORE2018", Score: -1},
		},
		{
			name:  "newer snapshot selected by year",
			query: CoreQuery{Acronym: "ICSE", Title: "International Conference on Software Engineering", Year: 2021},
			want:  model.Verdict{Value: "A", Msg: "CORE2020", Exact: true, Score: 0},
		},
		{
			name:  "year before every snapshot uses the oldest",
			query: CoreQuery{Acronym: "ICSE", Title: "International Conference on Software Engineering", Year: 2001},
			want:  model.Verdict{Value: "A*", Msg: "CORE2018", Exact: true, Score: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Rank(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The zero-candidate fallback scans the whole catalogue, ignoring acronyms.
func TestCoreEngine_ExactTitleFallbackAcrossAcronyms(t *testing.T) {
	engine := newCoreEngine(t, newCorePortal(t), nil)

	got, err := engine.Rank(context.Background(), CoreQuery{
		Acronym: "OTHER",
		Title:   "The 12th Unique Title Conference (UTC 2018)",
		Year:    2018,
	})
	require.NoError(t, err)
	assert.Equal(t, model.Verdict{Value: "A", Msg: "CORE2018", Exact: false, Score: 0}, got)
}

func TestCoreEngine_StopWordOnlyTitle(t *testing.T) {
	engine := newCoreEngine(t, newCorePortal(t), nil)
	ctx := context.Background()

	// No acronym match: an empty title never takes the exact-title fallback.
	got, err := engine.Rank(ctx, CoreQuery{Acronym: "NONE", Title: "The International Conference", Year: 2018})
	require.NoError(t, err)
	assert.Equal(t, model.Verdict{Value: "Unranked", Msg: "No ranking found in CORE2018", Score: -1}, got)

	// Acronym match: the shortest candidate title is nearest to an empty one.
	got, err = engine.Rank(ctx, CoreQuery{Acronym: "FBS", Title: "The Symposium", Year: 2018})
	require.NoError(t, err)
	assert.Equal(t, model.Verdict{Value: "C", Msg: "CORE2018", Exact: false, Score: 2}, got)
}

func TestCoreEngine_CachedVerdictIsIdentical(t *testing.T) {
	portal := newCorePortal(t)
	engine := newCoreEngine(t, portal, nil)
	ctx := context.Background()
	q := CoreQuery{Acronym: "FBS", Title: "Foo Bar", Year: 2019}

	first, err := engine.Rank(ctx, q)
	require.NoError(t, err)
	exportHits := portal.Hits("search=&by=all&do=Export&source=CORE2018")

	second, err := engine.Rank(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, exportHits, portal.Hits("search=&by=all&do=Export&source=CORE2018"))
	assert.Equal(t, 1, portal.Hits(""), "sources page fetched once")
}

func TestCoreEngine_ResolvesTitleFromReference(t *testing.T) {
	resolver := mapResolver{"db/conf/icse/icse2018.html": "International Conference on Software Engineering"}
	engine := newCoreEngine(t, newCorePortal(t), resolver)

	got, err := engine.Rank(context.Background(), CoreQuery{
		Reference: "db/conf/icse/icse2018.html",
		Acronym:   "ICSE",
		Year:      2018,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, "A*", got.Value)
}

func TestCoreEngine_MaxDistance(t *testing.T) {
	portal := newCorePortal(t)
	c := cache.NewMemoryCache(time.Minute)
	catalogue := NewCoreCatalogue(portal.URL, newTestFetcher(), c, time.Hour, zerolog.Nop())
	engine := NewCoreEngine(catalogue, nil, c, time.Hour, 0, zerolog.Nop(), nil)

	got, err := engine.Rank(context.Background(), CoreQuery{Acronym: "ICSE", Title: "Something Else Entirely", Year: 2018})
	require.NoError(t, err)
	assert.Equal(t, "Unranked", got.Value)
}

func TestCoreEngine_BadRequest(t *testing.T) {
	engine := newCoreEngine(t, newCorePortal(t), nil)
	ctx := context.Background()

	_, err := engine.Rank(ctx, CoreQuery{Acronym: "ICSE"})
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = engine.Rank(ctx, CoreQuery{Year: 2020, Title: "x"})
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestCoreEngine_UpstreamFailureIsNotCached(t *testing.T) {
	portal := newCorePortal(t)
	engine := newCoreEngine(t, portal, nil)
	ctx := context.Background()
	q := CoreQuery{Acronym: "ICSE", Title: "International Conference on Software Engineering", Year: 2018}

	portal.SetFail(true)
	got, err := engine.Rank(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, model.Verdict{Value: "Unranked", Msg: "ranking source unavailable", Score: -1}, got)

	portal.SetFail(false)
	got, err = engine.Rank(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "A*", got.Value)
}

func TestCoreCatalogue_Source(t *testing.T) {
	portal := newCorePortal(t)
	catalogue := NewCoreCatalogue(portal.URL, newTestFetcher(), cache.NewMemoryCache(time.Minute), time.Hour, zerolog.Nop())
	ctx := context.Background()

	snap, err := catalogue.Source(ctx, "CORE2018")
	require.NoError(t, err)
	assert.Equal(t, 2018, snap.Year)
	assert.Len(t, snap.Entries, 7)

	_, err = catalogue.Source(ctx, "CORE1999")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	require.NoError(t, catalogue.Load(ctx))
	assert.Equal(t, 1, portal.Hits("search=&by=all&do=Export&source=CORE2018"))
	assert.Equal(t, 1, portal.Hits("search=&by=all&do=Export&source=CORE2022"))
}

func TestParseCoreSources(t *testing.T) {
	page := `<select name="source">
		<option>All</option>
		<option> CORE2021 </option>
		<option>ERA2010</option>
		<option>CORE2008 (2009 update)</option>
		<option>Version 12</option>
	</select>
	<select name="by"><option>2020</option></select>`

	refs, err := parseCoreSources([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, []model.SnapshotRef{
		{Year: 2021, Source: "CORE2021"},
		{Year: 2010, Source: "ERA2010"},
		{Year: 2008, Source: "CORE2008 (2009 update)"},
		{Year: 2009, Source: "CORE2008 (2009 update)"},
	}, refs)
}

func TestParseCoreExport(t *testing.T) {
	entries, err := parseCoreExport([]byte(core2018))
	require.NoError(t, err)
	require.Len(t, entries, 7, "rows without id are dropped")

	assert.Equal(t, model.RankingEntry{
		ID: "1", Title: "International Conference on Software Engineering", Acronym: "ICSE", Rank: "A*",
	}, entries[0])
	assert.Equal(t, "QUUX", entries[3].Acronym)
}

func TestParseCoreExport_QuotedTitles(t *testing.T) {
	entries, err := parseCoreExport([]byte("9,\"Logic, Language, Information and Computation\",WoLLIC,CORE2018,B,No,,,4613\r\n"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Logic, Language, Information and Computation", entries[0].Title)
	assert.Equal(t, "WOLLIC", entries[0].Acronym)
}
