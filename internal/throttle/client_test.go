package throttle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rankme/internal/model"
)

func newTestClient(concurrency, maxRetries int) *Client {
	httpCfg := model.HTTPConfig{
		Timeout:      5 * time.Second,
		UserAgent:    "rankme-test/1.0",
		MaxBodyBytes: 1 << 20,
	}
	throttleCfg := model.ThrottleConfig{
		MaxRetries:         maxRetries,
		DefaultRetryAfter:  time.Minute,
		DefaultConcurrency: concurrency,
	}
	return New(httpCfg, throttleCfg, zerolog.Nop(), nil)
}

// stubSleep records requested backoffs instead of waiting.
func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var mu sync.Mutex
	var slept []time.Duration
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}
	t.Cleanup(func() { retrySleep = orig })
	return &slept
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rankme-test/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/xml", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, "OK")
	}))
	defer server.Close()

	c := newTestClient(1, 3)
	resp, err := c.Fetch(context.Background(), server.URL+"/x", WithHeader("Accept", "application/xml"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(resp.Body))
}

func TestFetch_DecodesLatin1(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte{'G', 0xf6, 'd', 'e', 'l'})
	}))
	defer server.Close()

	resp, err := newTestClient(1, 0).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Gödel", string(resp.Body))
}

func TestFetch_PriorityOrder(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocker" {
			close(blocked)
			<-release
			return
		}
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
	}))
	defer server.Close()

	c := newTestClient(1, 0)
	host := strings.TrimPrefix(server.URL, "http://")
	ctx := context.Background()

	var wg sync.WaitGroup
	fetch := func(path string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(ctx, server.URL+path, WithPriority(priority))
			assert.NoError(t, err)
		}()
	}

	fetch("/blocker", PriorityInteractive)
	<-blocked

	// Enqueue one at a time so arrival order is deterministic.
	fetch("/first-batch", PriorityBatch)
	waitFor(t, func() bool { return c.Pending(host) == 1 })
	fetch("/interactive", PriorityInteractive)
	waitFor(t, func() bool { return c.Pending(host) == 2 })
	fetch("/second-batch", PriorityBatch)
	waitFor(t, func() bool { return c.Pending(host) == 3 })

	close(release)
	wg.Wait()

	assert.Equal(t, []string{"/interactive", "/first-batch", "/second-batch"}, order)
}

func TestFetch_RetryAfterSeconds(t *testing.T) {
	slept := stubSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, "done")
	}))
	defer server.Close()

	resp, err := newTestClient(1, 3).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, int32(2), attempts.Load())
	require.Len(t, *slept, 1)
	assert.GreaterOrEqual(t, (*slept)[0], 2*time.Second)
}

func TestFetch_RetryBudgetExhausted(t *testing.T) {
	slept := stubSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(1, 2).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
	// No Retry-After header: the default applies.
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, *slept)
}

func TestFetch_OtherStatusFailsImmediately(t *testing.T) {
	stubSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(1, 5).Fetch(context.Background(), server.URL)
	require.Error(t, err)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := newTestClient(1, 0).Fetch(context.Background(), server.URL)
	assert.True(t, IsNotFound(err))
}

func TestFetch_PausesHostDuringBackoff(t *testing.T) {
	sleeping := make(chan struct{})
	resume := make(chan struct{})
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		close(sleeping)
		<-resume
		return nil
	}
	t.Cleanup(func() { retrySleep = orig })

	var limited atomic.Bool
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/a" && limited.CompareAndSwap(false, true) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	c := newTestClient(2, 3)
	host := strings.TrimPrefix(server.URL, "http://")
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := c.Fetch(ctx, server.URL+"/a")
		assert.NoError(t, err)
	}()
	<-sleeping

	go func() {
		defer wg.Done()
		_, err := c.Fetch(ctx, server.URL+"/b")
		assert.NoError(t, err)
	}()

	// A free slot exists, yet the paused host dispatches nothing.
	waitFor(t, func() bool { return c.Pending(host) == 1 })
	assert.Equal(t, int32(1), hits.Load())

	close(resume)
	wg.Wait()
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 0, c.Pending(host))
}

func TestFetch_RetryJumpsAheadOfWaiters(t *testing.T) {
	sleeping := make(chan struct{})
	resume := make(chan struct{})
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		close(sleeping)
		<-resume
		return nil
	}
	t.Cleanup(func() { retrySleep = orig })

	var mu sync.Mutex
	var order []string
	var limited atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/a" && limited.CompareAndSwap(false, true) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	c := newTestClient(1, 3)
	host := strings.TrimPrefix(server.URL, "http://")
	ctx := context.Background()

	var wg sync.WaitGroup
	fetch := func(path string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(ctx, server.URL+path, WithPriority(priority))
			assert.NoError(t, err)
		}()
	}

	// The retried request is batch priority; it still goes before
	// interactive requests that queued during its backoff.
	fetch("/a", PriorityBatch)
	<-sleeping
	fetch("/b", PriorityInteractive)
	waitFor(t, func() bool { return c.Pending(host) == 1 })
	fetch("/c", PriorityInteractive)
	waitFor(t, func() bool { return c.Pending(host) == 2 })

	close(resume)
	wg.Wait()

	assert.Equal(t, []string{"/a", "/a", "/b", "/c"}, order)
}

func TestFetch_CancelWhileQueued(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocker" {
			close(blocked)
			<-release
		}
	}))
	defer server.Close()
	defer close(release)

	c := newTestClient(1, 0)
	host := strings.TrimPrefix(server.URL, "http://")

	go func() { _, _ = c.Fetch(context.Background(), server.URL+"/blocker") }()
	<-blocked

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, server.URL+"/queued")
		errCh <- err
	}()
	waitFor(t, func() bool { return c.Pending(host) == 1 })

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, c.Pending(host))
}

func TestFetch_RobotsDisallow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\nCrawl-delay: 2\n")
			return
		}
		_, _ = fmt.Fprint(w, "public")
	}))
	defer server.Close()

	httpCfg := model.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "rankme/0.3", RespectRobots: true}
	c := New(httpCfg, model.ThrottleConfig{DefaultConcurrency: 1}, zerolog.Nop(), nil)

	_, err := c.Fetch(context.Background(), server.URL+"/private/page")
	assert.ErrorIs(t, err, ErrDisallowed)

	host := strings.TrimPrefix(server.URL, "http://")
	s := c.registry.scheduler(host)
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()
	assert.Equal(t, 2*time.Second, interval)
}

func TestFetch_UnreachableRobotsIsFetchedOnce(t *testing.T) {
	var robotsHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			panic(http.ErrAbortHandler)
		}
		_, _ = fmt.Fprint(w, "page")
	}))
	defer server.Close()

	httpCfg := model.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "rankme/0.3", RespectRobots: true}
	c := New(httpCfg, model.ThrottleConfig{DefaultConcurrency: 1}, zerolog.Nop(), nil)

	for i := 0; i < 3; i++ {
		resp, err := c.Fetch(context.Background(), server.URL+"/page")
		require.NoError(t, err)
		assert.Equal(t, "page", string(resp.Body))
	}
	assert.Equal(t, int32(1), robotsHits.Load())
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := newTestClient(1, 0).Fetch(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty uses default", "", time.Minute},
		{"seconds", "2", 2 * time.Second},
		{"zero seconds", "0", 0},
		{"negative uses default", "-5", time.Minute},
		{"http date", "Fri, 01 Mar 2024 12:00:30 GMT", 30 * time.Second},
		{"past date", "Fri, 01 Mar 2024 11:00:00 GMT", 0},
		{"garbage uses default", "soon", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value, time.Minute, now))
		})
	}
}

func TestRegistry_Rule(t *testing.T) {
	r := NewRegistry(model.DefaultConfig().Throttle, nil)

	assert.Equal(t, 500*time.Millisecond, r.Rule("dblp.org").Interval)
	assert.Equal(t, 1, r.Rule("www.scimagojr.com").Concurrency)
	fallback := r.Rule("example.com")
	assert.Equal(t, 16, fallback.Concurrency)
	assert.Zero(t, fallback.Interval)
}
