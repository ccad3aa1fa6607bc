// Package basic provides a simple policy.Engine implementation that enforces
// optional allow/block lists and honors router retry hints. It is intended
// to cover the common case where teams want lightweight filtering without
// building a bespoke policy service.
package basic

import (
	"context"
	"strings"

	"github.com/a2afabric/broker/codec"
	"github.com/a2afabric/broker/policy"
)

// Options configures the basic policy engine.
type Options struct {
	// AllowTags restricts capability invocation to metadata tags. Empty means no tag filter.
	AllowTags []string
	// BlockTags excludes capabilities carrying any of these tags.
	BlockTags []string
	// AllowCapabilities explicitly allowlists capability IDs. Takes precedence over tags.
	AllowCapabilities []string
	// BlockCapabilities explicitly blocks capability IDs.
	BlockCapabilities []string
	// DisableRetryHints disables automatic handling of router RetryHints. Enabled by default.
	// It has no effect when no allow/block list or tag is configured: New then honors hints anyway.
	DisableRetryHints bool
	// Label annotates emitted policy labels; defaults to "basic".
	Label string
}

// Engine implements policy.Engine with allow/block filtering and retry-hint awareness.
type Engine struct {
	allowTags        map[string]struct{}
	blockTags        map[string]struct{}
	allowCapabilities map[codec.Ident]struct{}
	blockCapabilities map[codec.Ident]struct{}
	honorHints       bool
	label            string
}

// New builds a new Engine using the supplied options.
//
//nolint:unparam // Error return maintained for consistency with other constructors.
func New(opts Options) (*Engine, error) {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = "basic"
	}
	e := &Engine{
		allowTags:         toSet[string](opts.AllowTags),
		blockTags:         toSet[string](opts.BlockTags),
		allowCapabilities: toSet[codec.Ident](opts.AllowCapabilities),
		blockCapabilities: toSet[codec.Ident](opts.BlockCapabilities),
		honorHints:        !opts.DisableRetryHints,
		label:             label,
	}
	if !e.honorHints && len(e.allowCapabilities) == 0 && len(e.allowTags) == 0 &&
		len(e.blockCapabilities) == 0 && len(e.blockTags) == 0 {
		// Default to honoring retry hints so the engine always influences behavior.
		e.honorHints = true
	}
	return e, nil
}

// Decide evaluates the capability allowlist for the current message.
//
//nolint:unparam // Error return maintained for interface compatibility.
func (e *Engine) Decide(_ context.Context, input policy.Input) (policy.Decision, error) {
	meta := indexMetadata(input.Capabilities)
	candidates := candidateHandles(input, meta)
	allowed := e.filterAllowed(candidates, meta)
	caps := input.RemainingCaps
	if e.honorHints && input.RetryHint != nil {
		allowed, caps = e.applyRetryHint(allowed, meta, caps, input.RetryHint)
	}
	labels := map[string]string{"policy_engine": e.label}
	if input.RetryHint != nil && e.honorHints {
		labels["policy_hint"] = string(input.RetryHint.Reason)
	}
	return policy.Decision{
		AllowedCapabilities: allowed,
		Caps:                caps,
		Labels:              labels,
		Metadata: map[string]any{
			"engine": e.label,
		},
	}, nil
}

func (e *Engine) filterAllowed(handles []policy.CapabilityHandle, meta map[codec.Ident]policy.CapabilityMetadata) []policy.CapabilityHandle {
	filtered := make([]policy.CapabilityHandle, 0, len(handles))
	seen := make(map[codec.Ident]struct{}, len(handles))
	for _, handle := range handles {
		if _, ok := seen[handle.ID]; ok {
			continue
		}
		md, ok := meta[handle.ID]
		if !ok {
			continue
		}
		if !e.isAllowed(md) {
			continue
		}
		filtered = append(filtered, handle)
		seen[handle.ID] = struct{}{}
	}
	return filtered
}

func (e *Engine) isAllowed(meta policy.CapabilityMetadata) bool {
	if len(e.blockCapabilities) > 0 {
		if _, blocked := e.blockCapabilities[meta.ID]; blocked {
			return false
		}
	}
	if len(e.blockTags) > 0 {
		for _, tag := range meta.Tags {
			if _, blocked := e.blockTags[tag]; blocked {
				return false
			}
		}
	}
	if len(e.allowCapabilities) > 0 {
		_, ok := e.allowCapabilities[meta.ID]
		return ok
	}
	if len(e.allowTags) > 0 {
		for _, tag := range meta.Tags {
			if _, ok := e.allowTags[tag]; ok {
				return true
			}
		}
		return false
	}
	return true
}

func (e *Engine) applyRetryHint(
	allowed []policy.CapabilityHandle, meta map[codec.Ident]policy.CapabilityMetadata,
	caps policy.CapsState, hint *policy.RetryHint,
) ([]policy.CapabilityHandle, policy.CapsState) {
	if hint == nil || hint.Capability == "" {
		return allowed, caps
	}
	switch {
	case hint.RestrictToCapability:
		if _, ok := meta[hint.Capability]; ok {
			allowed = []policy.CapabilityHandle{{ID: hint.Capability}}
			caps.RemainingCalls = limitCap(caps.RemainingCalls, 1)
		} else {
			allowed = nil
		}
	case hint.Reason == policy.RetryReasonCapabilityUnavailable:
		allowed = removeHandle(allowed, hint.Capability)
	default:
		// Use existing allowed slice as-is
	}
	return allowed, caps
}

func candidateHandles(input policy.Input, meta map[codec.Ident]policy.CapabilityMetadata) []policy.CapabilityHandle {
	if len(input.Requested) > 0 {
		return cloneHandles(input.Requested)
	}
	handles := make([]policy.CapabilityHandle, 0, len(meta))
	for id := range meta {
		handles = append(handles, policy.CapabilityHandle{ID: id})
	}
	return handles
}

func removeHandle(handles []policy.CapabilityHandle, id codec.Ident) []policy.CapabilityHandle {
	filtered := handles[:0]
	for _, handle := range handles {
		if handle.ID == id {
			continue
		}
		filtered = append(filtered, handle)
	}
	return filtered
}

func cloneHandles(handles []policy.CapabilityHandle) []policy.CapabilityHandle {
	dup := make([]policy.CapabilityHandle, len(handles))
	copy(dup, handles)
	return dup
}

func indexMetadata(list []policy.CapabilityMetadata) map[codec.Ident]policy.CapabilityMetadata {
	index := make(map[codec.Ident]policy.CapabilityMetadata, len(list))
	for _, meta := range list {
		index[meta.ID] = meta
	}
	return index
}

func toSet[T ~string](values []string) map[T]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[T]struct{}, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[T(trimmed)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func limitCap(current int, limit int) int {
	if limit <= 0 {
		return current
	}
	if current == 0 {
		return limit
	}
	if current < limit {
		return current
	}
	return limit
}
