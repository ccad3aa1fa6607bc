package agentregistry

import (
	"sort"

	"github.com/a2afabric/broker/model"
)

// Discover returns agents satisfying all five conditions from spec.md
// §4.2, sorted by: higher trust first, then fewer in-flight tasks, then
// lexicographic id.
func (r *Registry) Discover(q DiscoveryQuery) []model.AgentCard {
	r.mu.RLock()
	candidates := r.candidateSetLocked(q)
	r.mu.RUnlock()

	out := make([]model.AgentCard, 0, len(candidates))
	for _, c := range candidates {
		if matches(c, q) {
			out = append(out, *c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TrustLevel != b.TrustLevel {
			return a.TrustLevel > b.TrustLevel
		}
		ia, ib := r.inFlight.InFlight(a.ID), r.inFlight.InFlight(b.ID)
		if ia != ib {
			return ia < ib
		}
		return a.ID < b.ID
	})
	return out
}

// candidateSetLocked narrows the full card set using the capability and
// task-type secondary indexes before the full matches() check, so a
// discover() call with a tight required-capability set doesn't scan every
// registered card. Caller holds r.mu for reading.
func (r *Registry) candidateSetLocked(q DiscoveryQuery) []*model.AgentCard {
	if len(q.RequiredCapabilities) == 0 && len(q.TaskTypes) == 0 {
		all := make([]*model.AgentCard, 0, len(r.cards))
		for _, c := range r.cards {
			all = append(all, c)
		}
		return all
	}

	seen := make(map[model.AgentId]*model.AgentCard)
	for name := range q.RequiredCapabilities {
		for id := range r.byCapability[name] {
			if c, ok := r.cards[id]; ok {
				seen[id] = c
			}
		}
	}
	if len(q.RequiredCapabilities) == 0 {
		for tt := range q.TaskTypes {
			for id := range r.byTaskType[tt] {
				if c, ok := r.cards[id]; ok {
					seen[id] = c
				}
			}
		}
	}
	out := make([]*model.AgentCard, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out
}

// matches implements the five conditions verbatim from spec.md §4.2:
// (a) capability superset & availability, (b) trust floor, (c) modality
// superset, (d) task-type intersection when requested, (e) liveness.
func matches(c *model.AgentCard, q DiscoveryQuery) bool {
	for name := range q.RequiredCapabilities {
		if !c.HasCapability(name) {
			return false
		}
	}
	if q.MinTrust != 0 && !c.TrustLevel.AtLeast(q.MinTrust) {
		return false
	}
	if len(q.RequiredModalities) > 0 {
		have := make(map[string]struct{}, len(c.InteractionModalities))
		for _, m := range c.InteractionModalities {
			have[m.Kind] = struct{}{}
		}
		for m := range q.RequiredModalities {
			if _, ok := have[m]; !ok {
				return false
			}
		}
	}
	if len(q.TaskTypes) > 0 {
		found := false
		for _, tt := range c.SupportedTaskTypes {
			if _, ok := q.TaskTypes[tt]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	switch c.Status {
	case model.StatusOnline, model.StatusBusy:
	default:
		return false
	}
	return true
}

// addToIndexesLocked and removeFromIndexesLocked maintain the capability
// and task-type secondary indexes. Caller holds r.mu for writing.
func (r *Registry) addToIndexesLocked(card *model.AgentCard) {
	for _, cap := range card.Capabilities {
		if r.byCapability[cap.Name] == nil {
			r.byCapability[cap.Name] = make(map[model.AgentId]struct{})
		}
		r.byCapability[cap.Name][card.ID] = struct{}{}
	}
	for _, tt := range card.SupportedTaskTypes {
		if r.byTaskType[tt] == nil {
			r.byTaskType[tt] = make(map[model.AgentId]struct{})
		}
		r.byTaskType[tt][card.ID] = struct{}{}
	}
}

func (r *Registry) removeFromIndexesLocked(id model.AgentId) {
	card, ok := r.cards[id]
	if !ok {
		return
	}
	for _, cap := range card.Capabilities {
		delete(r.byCapability[cap.Name], id)
	}
	for _, tt := range card.SupportedTaskTypes {
		delete(r.byTaskType[tt], id)
	}
}
