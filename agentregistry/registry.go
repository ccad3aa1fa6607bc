// Package agentregistry implements the agent registry (C2): registration,
// heartbeat, capability/task-type discovery, and TTL-based liveness
// sweeping. It is distinct from package registry, which is the teacher's
// toolset/MCP-suite catalog retained under the plugin supervisor as its
// capability catalog (see DESIGN.md).
package agentregistry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/a2afabric/broker/model"
	"github.com/a2afabric/broker/telemetry"
)

// RegisterResult is the outcome of a register call.
type RegisterResult string

const (
	RegisterOK          RegisterResult = "ok"
	RegisterConflict    RegisterResult = "conflict"
	RegisterInvalidCard RegisterResult = "invalid_card"
)

// DiscoveryQuery narrows discover() to agents matching all of the
// supplied conditions (spec.md §4.2). Zero-value fields are wildcards.
type DiscoveryQuery struct {
	RequiredCapabilities map[string]struct{}
	MinTrust             model.TrustLevel
	RequiredModalities   map[string]struct{}
	TaskTypes            map[string]struct{}
	ExtraFilters         map[string]any
}

// InFlightCounter reports the number of tasks currently in flight for an
// agent, used as the discovery tie-breaker (spec.md: "fewer in-flight
// tasks" before lexicographic id). The router supplies the live
// implementation; registry-only tests can use a zero-value counter.
type InFlightCounter interface {
	InFlight(id model.AgentId) int
}

type zeroInFlight struct{}

func (zeroInFlight) InFlight(model.AgentId) int { return 0 }

// Registry is the in-memory, TTL-swept agent registry. It holds the
// authoritative AgentCard for each registered agent plus capability/
// task-type secondary indexes rebuilt incrementally on every mutation, as
// SPEC_FULL.md §4.2 describes regardless of which store.Store backend (if
// any) persists cards durably.
type Registry struct {
	mu    sync.RWMutex
	cards map[model.AgentId]*model.AgentCard
	// lastSeen tracks the time of the most recent heartbeat per agent,
	// compared against ttl by the sweep loop.
	lastSeen map[model.AgentId]time.Time

	byCapability map[string]map[model.AgentId]struct{}
	byTaskType   map[string]map[model.AgentId]struct{}

	ttl          time.Duration
	sweepPeriod  time.Duration
	inFlight     InFlightCounter
	logger       telemetry.Logger
	metrics      telemetry.Metrics

	stopSweep chan struct{}
	swept     sync.Once
}

// Options configures a Registry.
type Options struct {
	// TTL is how long a card may go without a heartbeat before the sweep
	// marks it Offline. Defaults to 90s.
	TTL time.Duration
	// SweepInterval is how often the liveness sweep runs. Defaults to 30s.
	SweepInterval time.Duration
	InFlight      InFlightCounter
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics
}

// New constructs a Registry and starts its background TTL sweep. Callers
// must call Close to stop the sweep goroutine.
func New(opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = 90 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.InFlight == nil {
		opts.InFlight = zeroInFlight{}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	r := &Registry{
		cards:        make(map[model.AgentId]*model.AgentCard),
		lastSeen:     make(map[model.AgentId]time.Time),
		byCapability: make(map[string]map[model.AgentId]struct{}),
		byTaskType:   make(map[string]map[model.AgentId]struct{}),
		ttl:          opts.TTL,
		sweepPeriod:  opts.SweepInterval,
		inFlight:     opts.InFlight,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		stopSweep:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the background sweep goroutine.
func (r *Registry) Close() {
	r.swept.Do(func() { close(r.stopSweep) })
}

// Register adds or replaces an agent's card. A card with an empty ID or
// name, or with a capability whose name is empty, is InvalidCard (an empty
// capability list is accepted); re-registering an existing id with a
// different name is a Conflict.
func (r *Registry) Register(ctx context.Context, card model.AgentCard) (RegisterResult, error) {
	if card.ID == "" || card.Name == "" {
		return RegisterInvalidCard, a2aerr.New(a2aerr.InvalidMessage, "agent card missing id or name")
	}
	for _, cap := range card.Capabilities {
		if cap.Name == "" {
			return RegisterInvalidCard, a2aerr.New(a2aerr.InvalidMessage, "capability with empty name")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.cards[card.ID]; ok && existing.Name != card.Name {
		return RegisterConflict, a2aerr.New(a2aerr.InvalidMessage, "agent %s already registered under name %q", card.ID, existing.Name)
	}

	now := time.Now()
	card.UpdatedAt = now
	if card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	if card.Status == "" {
		card.Status = model.StatusOnline
	}
	r.removeFromIndexesLocked(card.ID)
	r.cards[card.ID] = &card
	r.lastSeen[card.ID] = now
	r.addToIndexesLocked(&card)

	r.logger.Info(ctx, "agent registered", "agent_id", string(card.ID), "name", card.Name)
	r.metrics.IncCounter("registry.register", 1, "result", "ok")
	return RegisterOK, nil
}

// Unregister removes an agent's card. It is idempotent: unregistering an
// unknown id is not an error.
func (r *Registry) Unregister(ctx context.Context, id model.AgentId, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cards[id]; !ok {
		return nil
	}
	r.removeFromIndexesLocked(id)
	delete(r.cards, id)
	delete(r.lastSeen, id)
	r.logger.Info(ctx, "agent unregistered", "agent_id", string(id), "reason", reason)
	return nil
}

// Heartbeat records a liveness ping and optionally updates status.
func (r *Registry) Heartbeat(ctx context.Context, id model.AgentId, status model.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[id]
	if !ok {
		return a2aerr.New(a2aerr.AgentNotFound, "agent %s not registered", id)
	}
	r.lastSeen[id] = time.Now()
	if status != "" {
		card.Status = status
		card.UpdatedAt = time.Now()
	}
	return nil
}

// Get returns a copy of an agent's card.
func (r *Registry) Get(id model.AgentId) (model.AgentCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[id]
	if !ok {
		return model.AgentCard{}, a2aerr.New(a2aerr.AgentNotFound, "agent %s not registered", id)
	}
	return *card, nil
}

// Filter narrows List by status and/or tags; zero values are wildcards.
type Filter struct {
	Status model.AgentStatus
	Tag    string
}

// List returns all cards matching filter.
func (r *Registry) List(filter Filter) []model.AgentCard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AgentCard, 0, len(r.cards))
	for _, c := range r.cards {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Tag != "" && !hasTag(c.Tags, filter.Tag) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetCapabilities returns the capabilities of a single agent (if id is
// set) or all distinct capabilities across the registry (filtered by
// capType if non-empty).
func (r *Registry) GetCapabilities(id *model.AgentId, capType model.CapabilityType) []model.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Capability
	seen := make(map[string]bool)
	add := func(caps []model.Capability) {
		for _, c := range caps {
			if capType != "" && c.Type != capType {
				continue
			}
			key := c.Name + "|" + string(c.Type)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	if id != nil {
		if card, ok := r.cards[*id]; ok {
			add(card.Capabilities)
		}
		return out
	}
	for _, card := range r.cards {
		add(card.Capabilities)
	}
	return out
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case now := <-ticker.C:
			r.sweepOnce(now)
		}
	}
}

func (r *Registry) sweepOnce(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, seen := range r.lastSeen {
		if now.Sub(seen) > r.ttl {
			if card, ok := r.cards[id]; ok && card.Status != model.StatusOffline {
				card.Status = model.StatusOffline
				card.UpdatedAt = now
				r.metrics.IncCounter("registry.sweep.offline", 1)
			}
		}
	}
}
