// Package plugin defines the canonical wire protocol and stream naming
// helpers used by the plugin supervisor and capability providers/consumers.
package plugin

import (
	"encoding/json"
	"errors"
	"strings"

	goa "goa.design/goa/v3/pkg"

	"github.com/a2afabric/broker/codec"
)

type (
	// CallMessageType is the type discriminator for plugin stream messages.
	CallMessageType string

	// CallMeta is execution metadata propagated alongside capability calls.
	// Providers may use this metadata to scope data access and persistence (for
	// example, applying session-scoped policies without polluting capability
	// payload schemas).
	CallMeta struct {
		RunID            string `json:"run_id"`
		SessionID        string `json:"session_id"`
		TaskID           string `json:"task_id,omitempty"`
		CallID           string `json:"call_id,omitempty"`
		ParentCallID     string `json:"parent_call_id,omitempty"`
	}

	// CallMessage is published to a plugin request stream for capability
	// invocations and provider health checks.
	CallMessage struct {
		Type       CallMessageType `json:"type"`
		CallUseID  string          `json:"call_use_id,omitempty"`
		PingID     string          `json:"ping_id,omitempty"`
		Capability codec.Ident     `json:"capability,omitempty"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		Meta       *CallMeta       `json:"meta,omitempty"`

		// TraceParent and TraceState carry W3C Trace Context headers for distributed
		// tracing across stream boundaries. These fields are optional and may be empty.
		// When set, consumers should extract them into their context before starting
		// spans for handling the call.
		TraceParent string `json:"traceparent,omitempty"`
		TraceState  string `json:"tracestate,omitempty"`

		// Baggage carries the W3C baggage header when the global propagator includes
		// baggage propagation (common for OTEL setups). Optional.
		Baggage string `json:"baggage,omitempty"`
	}

	// ResultMessage is published to a per-call result stream. The supervisor
	// never interprets these bytes; consumers decode them using compiled
	// capability codecs.
	ResultMessage struct {
		CallUseID string          `json:"call_use_id"`
		Result    json.RawMessage `json:"result_json,omitempty"`
		// ServerData carries server-only metadata about the capability execution
		// that must not be serialized into agent-facing responses.
		//
		// This is the canonical home for any non-agent payloads emitted alongside
		// a capability result. Consumers may project it into different observer
		// views (for example, UI render cards vs persistence-only evidence), but
		// the wire protocol keeps a single server-side envelope.
		ServerData []*ServerDataItem `json:"server_data,omitempty"`
		Error      *CallError        `json:"error,omitempty"`
	}

	// OutputDeltaMessage is published to a per-call result stream while a
	// capability is still running. It streams partial output to consumers for
	// improved UX (live output panels) without changing the final
	// ResultMessage.
	//
	// Contract:
	//   - This is best-effort and may be dropped by consumers.
	//   - Deltas are not persisted by default; the canonical output remains the
	//     final capability result payload.
	OutputDeltaMessage struct {
		CallUseID string `json:"call_use_id"`
		// Stream identifies which logical output channel produced the delta
		// (for example, "stdout", "stderr", "log", "progress").
		Stream string `json:"stream"`
		Delta  string `json:"delta"`
	}

	// ServerDataItem is server-only capability output published alongside the
	// canonical capability result JSON. Server data is never forwarded to
	// remote agents.
	ServerDataItem struct {
		Kind     string          `json:"kind"`
		Audience string          `json:"audience"`
		Data     json.RawMessage `json:"data"`
	}

	// CallError is a structured capability error published by providers.
	CallError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		// Issues optionally carries structured field-level validation issues.
		// When present, consumers can build a RetryHint without parsing Message.
		Issues []*codec.FieldIssue `json:"issues,omitempty"`
	}
)

const (
	// MessageTypeCall indicates a capability invocation message on a plugin stream.
	MessageTypeCall CallMessageType = "call"
	// MessageTypePing indicates a health ping message on a plugin stream.
	MessageTypePing CallMessageType = "ping"

	// OutputDeltaEventKey is the stream event name used to publish best-effort
	// capability output delta messages to a per-call result stream.
	OutputDeltaEventKey = "output_delta"
)

// NewCallMessage constructs a capability invocation message.
func NewCallMessage(callUseID string, capability codec.Ident, payload json.RawMessage, meta *CallMeta) CallMessage {
	return CallMessage{
		Type:       MessageTypeCall,
		CallUseID:  callUseID,
		Capability: capability,
		Payload:    payload,
		Meta:       meta,
	}
}

// NewPingMessage constructs a health ping message.
func NewPingMessage(pingID string) CallMessage {
	return CallMessage{
		Type:   MessageTypePing,
		PingID: pingID,
	}
}

// NewResultMessage constructs a successful capability result message.
func NewResultMessage(callUseID string, result json.RawMessage) ResultMessage {
	return ResultMessage{
		CallUseID: callUseID,
		Result:    result,
	}
}

// NewResultMessageWithServerData constructs a successful capability result
// message with additional server-only metadata.
func NewResultMessageWithServerData(callUseID string, result json.RawMessage, serverData []*ServerDataItem) ResultMessage {
	out := NewResultMessage(callUseID, result)
	out.ServerData = serverData
	return out
}

// NewOutputDeltaMessage constructs a capability output delta message.
func NewOutputDeltaMessage(callUseID string, stream string, delta string) OutputDeltaMessage {
	return OutputDeltaMessage{
		CallUseID: callUseID,
		Stream:    stream,
		Delta:     delta,
	}
}

// NewResultErrorMessage constructs an error capability result message.
func NewResultErrorMessage(callUseID, code, message string) ResultMessage {
	return ResultMessage{
		CallUseID: callUseID,
		Error: &CallError{
			Code:    code,
			Message: message,
		},
	}
}

// NewResultErrorMessageWithIssues constructs an error capability result
// message that includes structured validation issues for building retry
// hints.
func NewResultErrorMessageWithIssues(callUseID, code, message string, issues []*codec.FieldIssue) ResultMessage {
	out := NewResultErrorMessage(callUseID, code, message)
	if out.Error == nil {
		return out
	}
	if len(issues) == 0 {
		return out
	}
	out.Error.Issues = cloneFieldIssues(issues)
	return out
}

// ValidationIssues extracts structured field-level validation issues from err.
//
// It supports two common sources:
//   - Generated capability-codec validation errors that expose Issues() []*codec.FieldIssue
//   - Goa ServiceErrors (possibly merged) that use Goa validation error names
//     (missing_field, invalid_length, etc.) and populate ServiceError.Field.
//
// ValidationIssues returns nil when err does not represent a field-level validation failure.
func ValidationIssues(err error) []*codec.FieldIssue {
	if err == nil {
		return nil
	}

	var ip interface {
		Issues() []*codec.FieldIssue
	}
	if errors.As(err, &ip) {
		return cloneFieldIssues(ip.Issues())
	}

	var se *goa.ServiceError
	if !errors.As(err, &se) {
		return nil
	}

	hist := se.History()
	if len(hist) == 0 {
		return nil
	}

	issues := make([]*codec.FieldIssue, 0, len(hist))
	for _, h := range hist {
		if h == nil {
			continue
		}
		if !isGoaValidationConstraint(h.Name) {
			continue
		}
		if h.Field == nil || *h.Field == "" {
			continue
		}
		field := *h.Field
		field = strings.TrimPrefix(field, "body.")
		if field == "" {
			continue
		}
		issues = append(issues, &codec.FieldIssue{
			Field:      field,
			Constraint: h.Name,
		})
	}
	if len(issues) == 0 {
		return nil
	}
	return issues
}

func cloneFieldIssues(in []*codec.FieldIssue) []*codec.FieldIssue {
	if len(in) == 0 {
		return nil
	}
	out := make([]*codec.FieldIssue, 0, len(in))
	for _, is := range in {
		if is == nil {
			continue
		}
		cp := *is
		if len(cp.Allowed) > 0 {
			cp.Allowed = append([]string(nil), cp.Allowed...)
		}
		out = append(out, &cp)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isGoaValidationConstraint(name string) bool {
	switch name {
	case goa.InvalidFieldType,
		goa.MissingField,
		goa.InvalidEnumValue,
		goa.InvalidFormat,
		goa.InvalidPattern,
		goa.InvalidRange,
		goa.InvalidLength:
		return true
	default:
		return false
	}
}
