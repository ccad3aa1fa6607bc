package a2a

import (
	"errors"

	a2aretry "github.com/a2afabric/broker/a2a/retry"
	"github.com/a2afabric/broker/codec"
)

// RetryReason classifies why a router-level retry was suggested for a
// failed capability call.
type RetryReason string

const (
	// RetryReasonInvalidArguments indicates the call payload failed
	// validation against the capability's InputSchema.
	RetryReasonInvalidArguments RetryReason = "invalid_arguments"
	// RetryReasonCapabilityUnavailable indicates the target capability is
	// not currently registered or is circuit-broken.
	RetryReasonCapabilityUnavailable RetryReason = "capability_unavailable"
)

// RetryHint carries a structured suggestion the message router attaches to
// a failed dispatch so that a retrying caller (or the router's own
// failover logic) knows how to repair the next attempt.
type RetryHint struct {
	// Reason classifies the failure.
	Reason RetryReason
	// Capability is the identifier of the capability the hint applies to.
	Capability codec.Ident
	// Message is a human-readable explanation, possibly including a
	// structured repair prompt built from the capability's schema.
	Message string
	// RestrictToCapability indicates a retry should only target the same
	// capability rather than falling back to an alternate provider.
	RestrictToCapability bool
}

// ErrorToRetryHint maps an A2A JSON-RPC error to a router retry hint using
// the schema and example information from the corresponding SkillConfig.
// It focuses on invalid params and method-not-found conditions where retries
// are meaningful.
func ErrorToRetryHint(skill SkillConfig, err error) *RetryHint {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		return nil
	}

	switch rpcErr.Code {
	case JSONRPCInvalidParams:
		// Use schema and example from SkillConfig to build a structured repair prompt.
		prompt := a2aretry.BuildRepairPrompt(
			"tasks/send:"+skill.ID,
			rpcErr.Message,
			skill.ExampleArgs,
			string(skill.Payload.Schema),
		)
		return &RetryHint{
			Reason:               RetryReasonInvalidArguments,
			Capability:           codec.Ident(skill.ID),
			Message:              prompt,
			RestrictToCapability: true,
		}
	case JSONRPCMethodNotFound:
		return &RetryHint{
			Reason:     RetryReasonCapabilityUnavailable,
			Capability: codec.Ident(skill.ID),
			Message:    rpcErr.Message,
		}
	default:
		return nil
	}
}

// DefaultRetryHint is a convenience wrapper that looks up the SkillConfig by
// capability identifier and delegates to ErrorToRetryHint.
func DefaultRetryHint(skillMap map[codec.Ident]SkillConfig, capability codec.Ident, err error) *RetryHint {
	skill, ok := skillMap[capability]
	if !ok {
		return nil
	}
	return ErrorToRetryHint(skill, err)
}
