// Package policy codifies authorization policy evaluation for the security
// manager. Policy engines decide which capabilities remain reachable for a
// caller on each inbound message, enforce per-session budgets (max calls,
// consecutive failures, time budgets), and react to router retry hints.
// This keeps authorization decisions out of the router and protocol engine.
package policy

import (
	"context"
	"time"

	"github.com/a2afabric/broker/codec"
)

type (
	// Engine decides which capabilities remain available to a caller for a
	// message. The security manager invokes the policy engine before
	// forwarding a message to the router so it can compute the allowlist
	// and update caps. This enables dynamic capability filtering, circuit
	// breaking, and budget enforcement without coupling the router to
	// authorization concerns.
	//
	// Implementations should be fast (well under the router's dispatch
	// timeout) since Decide sits on the hot path of every inbound message.
	Engine interface {
		// Decide evaluates policy constraints and returns the decision for
		// this message.
		Decide(ctx context.Context, input Input) (Decision, error)
	}

	// Input groups the information made available to the policy engine for
	// a single decision.
	Input struct {
		// SessionID identifies the calling session or agent, used to key
		// per-caller budgets.
		SessionID string
		// TrustLevel is the trust tier the registry assigned the caller.
		TrustLevel string
		// Capabilities lists all candidate capabilities the target agent
		// advertises. The policy engine filters this list down to the
		// allowlist for the current message.
		Capabilities []CapabilityMetadata
		// RetryHint carries router-suggested repairs after a capability
		// call failure. Nil if no hint was provided.
		RetryHint *RetryHint
		// RemainingCaps reflects the current execution budgets for the
		// caller's session.
		RemainingCaps CapsState
		// Requested enumerates capabilities explicitly targeted by the
		// inbound message.
		Requested []CapabilityHandle
		// Labels are arbitrary key/value pairs propagated to policy
		// decisions (e.g. {"environment": "production"}).
		Labels map[string]string
	}

	// Decision captures the outcome of a policy evaluation. The security
	// manager applies this before forwarding to the router: it restricts
	// dispatch to the allowlist, updates caps, and may reject the message
	// outright if Reject is true.
	Decision struct {
		// AllowedCapabilities is the final allowlist for this message.
		// Empty means no capability may be invoked.
		AllowedCapabilities []CapabilityHandle
		// Caps carries the updated caps that should be enforced going
		// forward for the caller's session.
		Caps CapsState
		// Reject signals the message should be refused outright (budget
		// exhausted, circuit open, trust level insufficient).
		Reject bool
		// Labels allows policies to annotate downstream telemetry.
		Labels map[string]string
		// Metadata captures policy-specific audit information.
		Metadata map[string]any
	}

	// CapabilityMetadata describes a candidate capability available on the
	// target agent.
	CapabilityMetadata struct {
		// ID is the fully qualified capability identifier
		// (agent-name.capability-id).
		ID codec.Ident
		// Name is the human-readable capability name.
		Name string
		// Description documents the capability's purpose.
		Description string
		// Tags lists metadata labels used for allow/block filtering.
		Tags []string
	}

	// CapabilityHandle identifies a capability by its fully qualified ID.
	CapabilityHandle struct {
		ID codec.Ident
	}

	// CapsState tracks remaining budgets for a caller's session. The
	// security manager decrements these as messages are dispatched and
	// failures occur.
	CapsState struct {
		// MaxCalls is the total allowed capability invocations for the
		// session. Zero means unlimited.
		MaxCalls int
		// RemainingCalls tracks how many invocations are still allowed.
		RemainingCalls int
		// MaxConsecutiveFailures caps consecutive failures per session
		// before circuit breaking. Zero means unlimited.
		MaxConsecutiveFailures int
		// RemainingConsecutiveFailures tracks how many consecutive
		// failures remain before the session is circuit-broken.
		RemainingConsecutiveFailures int
		// ExpiresAt conveys when the session-level budget expires. Zero
		// means no deadline.
		ExpiresAt time.Time
	}
)

// RetryReason categorizes router failures communicated via RetryHint.
type RetryReason string

const (
	RetryReasonInvalidArguments    RetryReason = "invalid_arguments"
	RetryReasonCapabilityUnavailable RetryReason = "capability_unavailable"
	RetryReasonTimeout             RetryReason = "timeout"
	RetryReasonRateLimited         RetryReason = "rate_limited"
)

// RetryHint communicates router guidance after a capability dispatch
// failure so policy engines can adjust allowlists or caps.
type RetryHint struct {
	Reason             RetryReason
	Capability         codec.Ident
	RestrictToCapability bool
	Message            string
}
