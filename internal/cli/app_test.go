package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rankme/internal/model"
)

func TestApp_AuthorLookupsOvertakeVenueLookups(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var order []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		once.Do(func() {
			close(blocked)
			<-release
		})
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := model.DefaultConfig()
	cfg.DBLP.BaseURL = server.URL
	cfg.Store = model.StoreConfig{Driver: "memory"}
	cfg.Cache.Backend = "memory"
	cfg.Throttle.Hosts = []model.HostConfig{{Match: "127.0.0.1", Concurrency: 1}}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	host := strings.TrimPrefix(server.URL, "http://")
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	resolve := func(ref string) func() {
		return func() { a.resolver.ResolveFullName(ctx, ref) }
	}

	run(resolve("db/conf/a/a2020.html"))
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("first venue lookup never reached the server")
	}

	run(resolve("db/conf/b/b2020.html"))
	require.Eventually(t, func() bool { return a.fetcher.Pending(host) == 1 }, 2*time.Second, time.Millisecond)
	run(resolve("db/conf/c/c2020.html"))
	require.Eventually(t, func() bool { return a.fetcher.Pending(host) == 2 }, 2*time.Second, time.Millisecond)
	run(func() {
		_, err := a.authors.FetchAuthor(ctx, "x/Someone")
		assert.Error(t, err)
	})
	require.Eventually(t, func() bool { return a.fetcher.Pending(host) == 3 }, 2*time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, []string{
		"/db/conf/a/index.xml",
		"/pid/x/Someone.xml",
		"/db/conf/b/index.xml",
		"/db/conf/c/index.xml",
	}, order)
}
