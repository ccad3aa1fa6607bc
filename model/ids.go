// Package model holds the A2A wire data model: messages, tasks, agent
// cards, capabilities, sessions, and encryption keys. It is the one place
// every other component (registry, engine, router, supervisor, streaming,
// security) imports for these shapes, so that C1's invariants are enforced
// in a single spot rather than re-derived per caller.
package model

import "github.com/google/uuid"

// AgentId, TaskId, MessageId, ContextId and SessionId are opaque strings.
// The distinct types keep identifiers from different domains from being
// mixed up at call sites while remaining plain strings on the wire.
type (
	AgentId   string
	TaskId    string
	MessageId string
	ContextId string
	SessionId string
)

// NewAgentId, NewTaskId, NewMessageId and NewContextId mint fresh
// identifiers via github.com/google/uuid (v4) for callers that don't
// supply their own.
func NewAgentId() AgentId     { return AgentId(uuid.NewString()) }
func NewTaskId() TaskId       { return TaskId(uuid.NewString()) }
func NewMessageId() MessageId { return MessageId(uuid.NewString()) }
func NewContextId() ContextId { return ContextId(uuid.NewString()) }
func NewSessionId() SessionId { return SessionId(uuid.NewString()) }
