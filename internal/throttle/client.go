// Package throttle performs outbound HTTP requests through per-host priority
// queues with concurrency caps, request spacing and 429 backoff.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
)

// Request priorities. Lower values are served first.
const (
	PriorityInteractive = 1
	PriorityBatch       = 5
	PriorityBackground  = 9
)

var (
	// ErrRateLimited is wrapped when a host keeps answering 429.
	ErrRateLimited = errors.New("rate limited: retries exhausted")
	// ErrDisallowed is wrapped when robots.txt forbids the path.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// UpstreamError reports a failed upstream request.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("upstream %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("upstream %s: unexpected status %d", e.URL, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}

// Response is a fully read upstream response. Body is UTF-8.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

type requestOptions struct {
	priority int
	header   http.Header
}

// RequestOption customises a single Fetch.
type RequestOption func(*requestOptions)

// WithPriority sets the queue priority of the request.
func WithPriority(p int) RequestOption {
	return func(o *requestOptions) { o.priority = p }
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Add(key, value) }
}

// retrySleep waits out a Retry-After interval. Overridden in tests.
var retrySleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client is the only way the service talks to upstream hosts.
type Client struct {
	httpClient        *http.Client
	registry          *Registry
	robots            *RobotsChecker
	userAgent         string
	maxBytes          int64
	maxRetries        int
	defaultRetryAfter time.Duration
	logger            zerolog.Logger
	metrics           *metrics.Manager
}

// New creates a Client from the HTTP and throttle configuration.
func New(httpCfg model.HTTPConfig, throttleCfg model.ThrottleConfig, logger zerolog.Logger, m *metrics.Manager) *Client {
	transport := NewTransport(httpCfg.HTTPProxy, httpCfg.HTTPSProxy, httpCfg.NoProxy)
	httpClient := &http.Client{
		Timeout:   httpCfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return nil
		},
	}

	maxBytes := httpCfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	retryAfter := throttleCfg.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = 60 * time.Second
	}

	c := &Client{
		httpClient:        httpClient,
		registry:          NewRegistry(throttleCfg, m),
		userAgent:         httpCfg.UserAgent,
		maxBytes:          maxBytes,
		maxRetries:        throttleCfg.MaxRetries,
		defaultRetryAfter: retryAfter,
		logger:            logger.With().Str("component", "throttle").Logger(),
		metrics:           m,
	}
	if httpCfg.RespectRobots {
		c.robots = NewRobotsChecker(httpCfg.UserAgent, httpClient, c.logger)
	}
	return c
}

// Pending returns the number of queued requests for host (host[:port]).
func (c *Client) Pending(host string) int {
	return c.registry.Pending(host)
}

// Fetch performs a GET through the host queue of rawURL. A 429 pauses the
// host for the Retry-After interval and requeues the request at the front,
// up to the retry budget. Any other non-2xx status fails immediately.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	o := requestOptions{priority: PriorityInteractive, header: http.Header{}}
	for _, opt := range opts {
		opt(&o)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", rawURL)
	}
	host := parsed.Host
	s := c.registry.scheduler(host)

	if c.robots != nil {
		allowed, crawlDelay := c.robots.CanFetch(ctx, rawURL)
		if !allowed {
			return nil, &UpstreamError{URL: rawURL, Err: ErrDisallowed}
		}
		s.widen(crawlDelay)
	}

	if err := s.acquire(ctx, o.priority); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			s.release()
			return nil, err
		}

		start := time.Now()
		resp, err := c.do(ctx, rawURL, o.header)
		if err != nil {
			s.release()
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("upstream request failed")
			return nil, &UpstreamError{URL: rawURL, Err: err}
		}

		c.metrics.UpstreamRequest(host, resp.StatusCode)
		c.logger.Info().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Int("priority", o.priority).
			Int("attempt", attempt+1).
			Dur("duration", time.Since(start)).
			Msg("upstream request")

		if resp.StatusCode != http.StatusTooManyRequests {
			s.release()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &UpstreamError{URL: rawURL, StatusCode: resp.StatusCode}
			}
			return resp, nil
		}

		if attempt >= c.maxRetries {
			s.release()
			return nil, &UpstreamError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrRateLimited}
		}

		wait := parseRetryAfter(resp.Header.Get("Retry-After"), c.defaultRetryAfter, time.Now())
		c.metrics.UpstreamRetry(host)
		c.logger.Warn().
			Str("host", host).
			Str("url", rawURL).
			Dur("retry_after", wait).
			Int("attempt", attempt+1).
			Msg("rate limited, pausing host")

		s.pause()
		if err := retrySleep(ctx, wait); err != nil {
			s.release()
			return nil, err
		}
		if err := s.reacquire(ctx, o.priority); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body, resp.Header.Get("Content-Type"), c.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// readBody reads at most maxBytes and converts the payload to UTF-8.
func readBody(r io.Reader, contentType string, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes)
	decoded, err := charset.NewReader(limited, contentType)
	if err != nil {
		return io.ReadAll(limited)
	}
	return io.ReadAll(decoded)
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(value string, fallback time.Duration, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
