package throttle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsChecker checks robots.txt compliance per host. Each host's
// robots.txt is fetched at most once; an unreachable one is remembered
// as allowing everything.
type RobotsChecker struct {
	cache      map[string]*robotstxt.RobotsData // nil value: unavailable
	mu         sync.RWMutex
	group      singleflight.Group
	httpClient *http.Client
	userAgent  string
	agent      string
	logger     zerolog.Logger
}

// NewRobotsChecker creates a checker that fetches robots.txt with client.
// robots.txt requests bypass the host queues.
func NewRobotsChecker(userAgent string, client *http.Client, logger zerolog.Logger) *RobotsChecker {
	return &RobotsChecker{
		cache:      make(map[string]*robotstxt.RobotsData),
		httpClient: client,
		userAgent:  userAgent,
		agent:      productToken(userAgent),
		logger:     logger,
	}
}

// CanFetch reports whether rawURL may be fetched and the host's crawl delay.
// An unreachable robots.txt allows everything.
func (r *RobotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, 0
	}

	data := r.robotsData(ctx, parsed.Scheme, parsed.Host)
	if data == nil {
		return true, 0
	}

	group := data.FindGroup(r.agent)
	if group == nil {
		return true, 0
	}
	return group.Test(parsed.Path), group.CrawlDelay
}

func (r *RobotsChecker) robotsData(ctx context.Context, scheme, host string) *robotstxt.RobotsData {
	r.mu.RLock()
	data, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return data
	}

	v, _, _ := r.group.Do(host, func() (any, error) {
		robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
		data, err := r.fetch(ctx, robotsURL)
		if err != nil {
			r.logger.Warn().Err(err).Str("host", host).Msg("robots.txt unavailable, allowing all")
			if ctx.Err() != nil {
				// The caller gave up; let the next request try again.
				return (*robotstxt.RobotsData)(nil), nil
			}
		}
		r.mu.Lock()
		r.cache[host] = data
		r.mu.Unlock()
		return data, nil
	})
	return v.(*robotstxt.RobotsData)
}

func (r *RobotsChecker) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	r.logger.Info().
		Str("url", robotsURL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("robots.txt request")

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}

// productToken strips the version and comment from a User-Agent,
// "rankme/0.3 (+https://...)" becomes "rankme".
func productToken(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) == 0 {
		return ua
	}
	return strings.Split(parts[0], "/")[0]
}
