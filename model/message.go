package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole identifies who authored a message within a task's history.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// PartKind discriminates the tagged variant carried by a MessagePart.
type PartKind string

const (
	PartText     PartKind = "text"
	PartFile     PartKind = "file"
	PartData     PartKind = "data"
	PartToolCall PartKind = "tool_call"
)

// MessagePart is a tagged union over Text, File, Data, and ToolCall
// payloads. Exactly one of the kind-specific fields is populated,
// matching Kind. Encoding as a flat struct (rather than an interface)
// keeps the JSON wire form a plain object, consistent with the rest of
// the A2A ecosystem's camelCase convention (see SPEC_FULL.md §3 Wire
// forms).
type MessagePart struct {
	Kind PartKind `json:"kind"`

	// Text is populated when Kind == PartText.
	Text string `json:"text,omitempty"`

	// File fields are populated when Kind == PartFile. Exactly one of
	// Bytes or URI is set.
	FileName string `json:"fileName,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`

	// Data carries an arbitrary JSON object when Kind == PartData.
	Data json.RawMessage `json:"data,omitempty"`

	// ToolCall fields are populated when Kind == PartToolCall.
	ToolCallID   string          `json:"toolCallId,omitempty"`
	FunctionName string          `json:"functionName,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

// NewTextPart constructs a Text part.
func NewTextPart(text string) MessagePart {
	return MessagePart{Kind: PartText, Text: text}
}

// NewDataPart constructs a Data part. data must already be valid JSON.
func NewDataPart(data json.RawMessage) MessagePart {
	return MessagePart{Kind: PartData, Data: data}
}

// NewToolCallPart constructs a ToolCall part.
func NewToolCallPart(id, function string, args json.RawMessage) MessagePart {
	return MessagePart{Kind: PartToolCall, ToolCallID: id, FunctionName: function, Arguments: args}
}

// Validate checks the part's invariants: Kind must be known and its
// required fields present.
func (p MessagePart) Validate() error {
	switch p.Kind {
	case PartText:
		if p.Text == "" {
			return fmt.Errorf("text part: empty text")
		}
	case PartFile:
		if p.MIMEType == "" {
			return fmt.Errorf("file part: missing mimeType")
		}
		if len(p.Bytes) == 0 && p.URI == "" {
			return fmt.Errorf("file part: neither bytes nor uri set")
		}
	case PartData:
		if len(p.Data) == 0 || !json.Valid(p.Data) {
			return fmt.Errorf("data part: invalid JSON payload")
		}
	case PartToolCall:
		if p.ToolCallID == "" || p.FunctionName == "" {
			return fmt.Errorf("tool_call part: missing toolCallId or functionName")
		}
		if len(p.Arguments) > 0 && !json.Valid(p.Arguments) {
			return fmt.Errorf("tool_call part: invalid JSON arguments")
		}
	default:
		return fmt.Errorf("unknown part kind %q", p.Kind)
	}
	return nil
}

// A2AMessage is a single turn exchanged between agents or between an
// agent and the broker. Parts are order-significant and, once sent,
// immutable; message_id is unique for the lifetime of the broker process.
type A2AMessage struct {
	MessageID MessageId         `json:"messageId"`
	Role      MessageRole       `json:"role"`
	Parts     []MessagePart     `json:"parts"`
	TaskID    *TaskId           `json:"taskId,omitempty"`
	ContextID *ContextId        `json:"contextId,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Validate enforces §3's message invariants: at least one part, a known
// role, and JSON-serializable metadata. It does not enforce size/age
// limits — those are request-context checks made by the protocol engine
// (message_max_bytes, message_max_age).
func (m *A2AMessage) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("message: missing messageId")
	}
	switch m.Role {
	case RoleUser, RoleAgent, RoleSystem:
	default:
		return fmt.Errorf("message: unknown role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message: parts must be non-empty")
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("message: part %d: %w", i, err)
		}
	}
	if m.Metadata != nil {
		if _, err := json.Marshal(m.Metadata); err != nil {
			return fmt.Errorf("message: metadata not JSON-serializable: %w", err)
		}
	}
	return nil
}
