package throttle

import (
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/rankme/internal/metrics"
	"github.com/ppiankov/rankme/internal/model"
)

// HostRule limits traffic to every host whose name contains Match.
// Interval is the minimum spacing between two dispatches; zero means none.
type HostRule struct {
	Match       string
	Concurrency int
	Interval    time.Duration
}

// Registry maps upstream hosts to their schedulers. Schedulers are created
// lazily on first use from the first matching rule, or from the fallback.
type Registry struct {
	rules    []HostRule
	fallback HostRule
	metrics  *metrics.Manager

	mu    sync.RWMutex
	hosts map[string]*scheduler
}

// NewRegistry builds a registry from the throttle configuration.
func NewRegistry(cfg model.ThrottleConfig, m *metrics.Manager) *Registry {
	rules := make([]HostRule, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		rules = append(rules, HostRule{Match: h.Match, Concurrency: h.Concurrency, Interval: h.Interval})
	}
	return &Registry{
		rules:    rules,
		fallback: HostRule{Concurrency: cfg.DefaultConcurrency},
		metrics:  m,
		hosts:    make(map[string]*scheduler),
	}
}

// Rule returns the rule applied to host.
func (r *Registry) Rule(host string) HostRule {
	host = strings.ToLower(host)
	for _, rule := range r.rules {
		if rule.Match != "" && strings.Contains(host, strings.ToLower(rule.Match)) {
			return rule
		}
	}
	return r.fallback
}

// Pending returns the number of requests waiting for host.
func (r *Registry) Pending(host string) int {
	r.mu.RLock()
	s, ok := r.hosts[host]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.pending()
}

func (r *Registry) scheduler(host string) *scheduler {
	r.mu.RLock()
	s, ok := r.hosts[host]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := r.hosts[host]; ok {
		return s
	}

	s = newScheduler(host, r.Rule(host), r.metrics)
	r.hosts[host] = s
	return s
}
