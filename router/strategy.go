package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/a2afabric/broker/model"
)

// AgentStats is the live per-agent state strategies select over: current
// in-flight count and a rolling p50 latency estimate.
type AgentStats struct {
	InFlight int64
	P50      time.Duration
	Weight   int
	Samples  int
}

// Strategy picks one candidate agent from a non-empty slice, given the
// router's current stats for each. Implementations must be safe for
// concurrent use; the router calls Select on every send.
type Strategy interface {
	Select(candidates []model.AgentId, stats map[model.AgentId]*AgentStats) model.AgentId
}

// RoundRobin advances an atomic index on every call (spec.md: default
// strategy).
type RoundRobin struct {
	idx uint64
}

func (s *RoundRobin) Select(candidates []model.AgentId, _ map[model.AgentId]*AgentStats) model.AgentId {
	i := atomic.AddUint64(&s.idx, 1) - 1
	return candidates[i%uint64(len(candidates))]
}

// LeastConnections picks the candidate with the fewest in-flight calls,
// breaking ties by lower rolling p50 latency.
type LeastConnections struct{}

func (LeastConnections) Select(candidates []model.AgentId, stats map[model.AgentId]*AgentStats) model.AgentId {
	best := candidates[0]
	bestStat := statsFor(stats, best)
	for _, c := range candidates[1:] {
		s := statsFor(stats, c)
		if s.InFlight < bestStat.InFlight || (s.InFlight == bestStat.InFlight && s.P50 < bestStat.P50) {
			best, bestStat = c, s
		}
	}
	return best
}

// WeightedRoundRobin implements Nginx's smooth weighted round-robin
// algorithm: each candidate's current weight accumulates by its
// configured weight every pick, and the highest current weight wins and
// is reduced by the sum of all weights.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	current map[model.AgentId]int
}

func (s *WeightedRoundRobin) Select(candidates []model.AgentId, stats map[model.AgentId]*AgentStats) model.AgentId {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = make(map[model.AgentId]int)
	}
	total := 0
	var best model.AgentId
	bestCur := -1 << 62
	for _, c := range candidates {
		w := statsFor(stats, c).Weight
		if w <= 0 {
			w = 1
		}
		total += w
		s.current[c] += w
		if s.current[c] > bestCur {
			bestCur = s.current[c]
			best = c
		}
	}
	s.current[best] -= total
	return best
}

// ResponseTime picks the candidate with the lowest rolling p50 latency
// estimate among candidates with at least MinSamples samples (default 5),
// falling back to round-robin when no candidate has that many samples.
type ResponseTime struct {
	MinSamples int
	fallback   RoundRobin
}

func (s *ResponseTime) Select(candidates []model.AgentId, stats map[model.AgentId]*AgentStats) model.AgentId {
	min := s.MinSamples
	if min <= 0 {
		min = 5
	}
	best := model.AgentId("")
	var bestP50 time.Duration
	for _, c := range candidates {
		st := statsFor(stats, c)
		if st.Samples < min {
			continue
		}
		if best == "" || st.P50 < bestP50 {
			best, bestP50 = c, st.P50
		}
	}
	if best == "" {
		return s.fallback.Select(candidates, stats)
	}
	return best
}

func statsFor(stats map[model.AgentId]*AgentStats, id model.AgentId) *AgentStats {
	if s, ok := stats[id]; ok {
		return s
	}
	return &AgentStats{}
}
