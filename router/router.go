// Package router implements the message router (C4): strategy-based
// target selection, the three-tier route cache, circuit-breaker-backed
// failover, and per-send metrics.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/a2afabric/broker/model"
)

// Directory is the read-mostly view of the agent registry the router
// consults for candidate sets and card lookups. agentregistry.Registry's
// Discover takes agentregistry.DiscoveryQuery, so it does not satisfy this
// interface without an adapter.
type Directory interface {
	Discover(q DiscoveryQuery) []model.AgentCard
	Get(id model.AgentId) (model.AgentCard, error)
}

// DiscoveryQuery mirrors agentregistry.DiscoveryQuery; duplicated as a
// narrow local type so this package does not import agentregistry,
// keeping the dependency direction registry -> router (router consumes
// the registry as an interface, per SPEC_FULL.md §9's cycle-breaking
// note).
type DiscoveryQuery struct {
	RequiredCapabilities map[string]struct{}
	MinTrust             model.TrustLevel
	TaskTypes            map[string]struct{}
}

// StrategyKind selects one of the four strategies from spec.md §4.4.
type StrategyKind string

const (
	StrategyRoundRobin         StrategyKind = "round_robin"
	StrategyLeastConnections   StrategyKind = "least_connections"
	StrategyWeightedRoundRobin StrategyKind = "weighted_round_robin"
	StrategyResponseTime       StrategyKind = "response_time"
)

// Options configures a Router.
type Options struct {
	Directory        Directory
	Strategy         StrategyKind
	CardTTL          time.Duration
	SelectionTTL     time.Duration
	EndpointTTL      time.Duration
	FailoverCooldown time.Duration
	RetryBudget      int
	Registerer       prometheus.Registerer
}

// Router selects a target agent and endpoint for an outbound message,
// caching selections and breaking circuits on sustained endpoint
// failures.
type Router struct {
	dir      Directory
	strategy Strategy
	cache    *cacheTier

	cooldown    time.Duration
	retryBudget int

	mu       sync.Mutex
	stats    map[model.AgentId]*AgentStats
	failed   map[string]time.Time // key: agentID|endpointURL -> marked-failed-at
	breakers map[string]*gobreaker.CircuitBreaker[any]

	attempts  *prometheus.CounterVec
	successes *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	cacheHits *prometheus.CounterVec
}

// New constructs a Router. If opts.Registerer is nil, metrics are
// registered against prometheus.NewRegistry() so multiple Routers in
// tests don't collide on the default global registry.
func New(opts Options) *Router {
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = 3
	}
	if opts.FailoverCooldown <= 0 {
		opts.FailoverCooldown = 30 * time.Second
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Router{
		dir:         opts.Directory,
		strategy:    buildStrategy(opts.Strategy),
		cache:       newCacheTier(opts.CardTTL, opts.SelectionTTL, opts.EndpointTTL),
		cooldown:    opts.FailoverCooldown,
		retryBudget: opts.RetryBudget,
		stats:       make(map[model.AgentId]*AgentStats),
		failed:      make(map[string]time.Time),
		breakers:    make(map[string]*gobreaker.CircuitBreaker[any]),
		attempts:    mustRegisterCounter(reg, "router_send_attempts_total", []string{"strategy"}),
		successes:   mustRegisterCounter(reg, "router_send_successes_total", []string{"strategy"}),
		failures:    mustRegisterCounter(reg, "router_send_failures_total", []string{"kind"}),
		latency:     mustRegisterHistogram(reg, "router_send_latency_seconds", []string{"strategy"}),
		cacheHits:   mustRegisterCounter(reg, "router_cache_result_total", []string{"tier", "result"}),
	}
	return r
}

func mustRegisterCounter(reg prometheus.Registerer, name string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labels)
	reg.MustRegister(c)
	return c
}

func mustRegisterHistogram(reg prometheus.Registerer, name string, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Buckets: prometheus.DefBuckets}, labels)
	reg.MustRegister(h)
	return h
}

func buildStrategy(kind StrategyKind) Strategy {
	switch kind {
	case StrategyLeastConnections:
		return LeastConnections{}
	case StrategyWeightedRoundRobin:
		return &WeightedRoundRobin{}
	case StrategyResponseTime:
		return &ResponseTime{}
	default:
		return &RoundRobin{}
	}
}

// InFlight implements agentregistry.InFlightCounter so the registry's
// discovery sort can use the router's live in-flight counts as its
// tie-breaker.
func (r *Router) InFlight(id model.AgentId) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[id]; ok {
		return int(s.InFlight)
	}
	return 0
}

// Send resolves a target endpoint for a message requiring the given
// capabilities/task kind, applying the cache, strategy, and failover
// rules from spec.md §4.4. call is invoked with the selected endpoint;
// Send retries over the remaining candidates (up to RetryBudget) if call
// returns an error; every error from call marks the endpoint failed and is
// counted as a transport failure.
func (r *Router) Send(ctx context.Context, q DiscoveryQuery, kind string, call func(ctx context.Context, agent model.AgentId, endpoint model.Endpoint) error) error {
	candidates := r.dir.Discover(q)
	if len(candidates) == 0 {
		r.failures.WithLabelValues(string(a2aerr.NoRoute)).Inc()
		return a2aerr.New(a2aerr.NoRoute, "no candidate agent satisfies the discovery query")
	}
	ids := make([]model.AgentId, len(candidates))
	byID := make(map[model.AgentId]model.AgentCard, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
		byID[c.ID] = c
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var lastErr error
	attempts := 0
	tried := make(map[model.AgentId]bool)
	for attempts <= r.retryBudget {
		remaining := excludeTried(ids, tried)
		if len(remaining) == 0 {
			break
		}
		agentID := r.strategy.Select(remaining, r.statsSnapshot())
		tried[agentID] = true
		attempts++

		endpoint, ok := r.selectEndpoint(byID[agentID], kind)
		if !ok {
			lastErr = a2aerr.New(a2aerr.NoRoute, "agent %s has no usable endpoint", agentID)
			continue
		}
		if r.inCooldown(agentID, endpoint.URL) {
			lastErr = a2aerr.New(a2aerr.AgentOffline, "agent %s endpoint %s in failover cooldown", agentID, endpoint.URL)
			continue
		}

		r.attempts.WithLabelValues(string(r.strategyName())).Inc()
		r.beginCall(agentID)
		start := time.Now()
		breaker := r.breakerFor(agentID, endpoint.URL)
		_, err := breaker.Execute(func() (any, error) {
			return nil, call(ctx, agentID, endpoint)
		})
		r.latency.WithLabelValues(string(r.strategyName())).Observe(time.Since(start).Seconds())
		r.endCall(agentID, time.Since(start))

		if err == nil {
			r.successes.WithLabelValues(string(r.strategyName())).Inc()
			return nil
		}
		lastErr = err
		r.markFailed(agentID, endpoint.URL)
		r.failures.WithLabelValues("transport").Inc()
	}
	if lastErr == nil {
		lastErr = a2aerr.New(a2aerr.NoRoute, "retry budget exhausted with no candidates attempted")
	}
	return a2aerr.Wrap(a2aerr.NoRoute, lastErr, "exhausted retry budget (%d attempts)", attempts)
}

func (r *Router) strategyName() StrategyKind {
	switch r.strategy.(type) {
	case LeastConnections:
		return StrategyLeastConnections
	case *WeightedRoundRobin:
		return StrategyWeightedRoundRobin
	case *ResponseTime:
		return StrategyResponseTime
	default:
		return StrategyRoundRobin
	}
}

// selectEndpoint prefers an endpoint matching the requested protocol
// kind, falling back to the first non-failed endpoint (spec.md §4.4:
// "prefer matching protocol, then not-currently-failed").
func (r *Router) selectEndpoint(card model.AgentCard, kind string) (model.Endpoint, bool) {
	cacheKey := fmt.Sprintf("%s|%s", card.ID, kind)
	if v, ok := r.cache.routes.Get(cacheKey); ok {
		r.cacheHits.WithLabelValues("route", "hit").Inc()
		return v.(model.Endpoint), true
	}
	r.cacheHits.WithLabelValues("route", "miss").Inc()

	if len(card.Endpoints) == 0 {
		return model.Endpoint{}, false
	}
	var chosen model.Endpoint
	found := false
	for _, ep := range card.Endpoints {
		if strings.EqualFold(ep.Protocol, kind) && !r.inCooldown(card.ID, ep.URL) {
			chosen, found = ep, true
			break
		}
	}
	if !found {
		for _, ep := range card.Endpoints {
			if !r.inCooldown(card.ID, ep.URL) {
				chosen, found = ep, true
				break
			}
		}
	}
	if !found {
		chosen, found = card.Endpoints[0], true
	}
	r.cache.routes.Set(cacheKey, chosen)
	return chosen, found
}

func (r *Router) inCooldown(agent model.AgentId, endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.failed[fmt.Sprintf("%s|%s", agent, endpoint)]
	if !ok {
		return false
	}
	if time.Since(t) > r.cooldown {
		delete(r.failed, fmt.Sprintf("%s|%s", agent, endpoint))
		return false
	}
	return true
}

func (r *Router) markFailed(agent model.AgentId, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[fmt.Sprintf("%s|%s", agent, endpoint)] = time.Now()
}

func (r *Router) breakerFor(agent model.AgentId, endpoint string) *gobreaker.CircuitBreaker[any] {
	key := fmt.Sprintf("%s|%s", agent, endpoint)
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	r.breakers[key] = b
	return b
}

func (r *Router) beginCall(id model.AgentId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statFor(id)
	s.InFlight++
}

func (r *Router) endCall(id model.AgentId, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statFor(id)
	if s.InFlight > 0 {
		s.InFlight--
	}
	// exponential moving average as a cheap rolling p50 estimate.
	if s.Samples == 0 {
		s.P50 = dur
	} else {
		s.P50 = (s.P50*9 + dur) / 10
	}
	s.Samples++
}

func (r *Router) statFor(id model.AgentId) *AgentStats {
	s, ok := r.stats[id]
	if !ok {
		s = &AgentStats{Weight: 1}
		r.stats[id] = s
	}
	return s
}

func (r *Router) statsSnapshot() map[model.AgentId]*AgentStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.AgentId]*AgentStats, len(r.stats))
	for k, v := range r.stats {
		cp := *v
		out[k] = &cp
	}
	return out
}

// InvalidateAgent drops cached entries for agent id across all three
// tiers, called by the registry's change-event channel (SPEC_FULL.md §9).
func (r *Router) InvalidateAgent(id model.AgentId) {
	r.cache.cards.Invalidate(string(id))
	r.cache.selections.InvalidateAll()
	r.cache.routes.InvalidateAll()
	r.mu.Lock()
	for key := range r.failed {
		if strings.HasPrefix(key, string(id)+"|") {
			delete(r.failed, key)
		}
	}
	r.mu.Unlock()
}

func excludeTried(ids []model.AgentId, tried map[model.AgentId]bool) []model.AgentId {
	out := make([]model.AgentId, 0, len(ids))
	for _, id := range ids {
		if !tried[id] {
			out = append(out, id)
		}
	}
	return out
}
