// Package stream provides abstractions for delivering real-time task
// updates to A2A clients. A Sink publishes Event values onto a transport
// (Server-Sent Events, WebSockets, or a message bus like Pulse); a
// Subscriber receives events pushed from elsewhere in the broker and
// forwards them to a Sink. Keeping the two separate lets the streaming
// subsystem swap transports without touching the protocol engine.
package stream

import (
	"context"

	"github.com/a2afabric/broker/a2a/types"
)

// EventType identifies the kind of update carried by an Event.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeArtifact EventType = "artifact"
	EventTypeMessage  EventType = "message"
	EventTypeError    EventType = "error"
)

// Event is a single streamable update. TaskEvent is the only
// implementation shipped by this package; transports marshal it via
// Payload for wire delivery.
type Event interface {
	// Type reports the event kind.
	Type() EventType
	// TaskID identifies the task the event belongs to.
	TaskID() string
	// SessionID identifies the session the task belongs to, when known.
	SessionID() string
	// Payload returns the wire-ready representation of the event.
	Payload() *types.TaskEvent
}

// TaskEvent adapts a types.TaskEvent into the stream.Event interface,
// attaching the session identifier the wire type itself does not carry.
type TaskEvent struct {
	Session string
	Event   *types.TaskEvent
}

// Type implements Event.
func (e TaskEvent) Type() EventType { return EventType(e.Event.Type) }

// TaskID implements Event.
func (e TaskEvent) TaskID() string { return e.Event.TaskID }

// SessionID implements Event.
func (e TaskEvent) SessionID() string { return e.Session }

// Payload implements Event.
func (e TaskEvent) Payload() *types.TaskEvent { return e.Event }

type (
	// Sink delivers streaming updates to clients over a transport (SSE,
	// WebSocket, Pulse). Implementations must be thread-safe: the router
	// may call Send concurrently from multiple goroutines when streaming
	// results for parallel tasks.
	Sink interface {
		// Send publishes an event to the sink's underlying transport.
		Send(ctx context.Context, event Event) error
		// Close releases resources owned by the sink. Idempotent.
		Close(ctx context.Context) error
	}

	// Subscriber receives events from an internal bus (the router or
	// protocol engine) and forwards them to a Sink, optionally filtering
	// or transforming events along the way.
	Subscriber interface {
		// Notify is invoked once per event produced upstream.
		Notify(ctx context.Context, event Event) error
	}
)

// SinkSubscriber adapts a Sink directly into a Subscriber, forwarding
// every event unfiltered. Use this when no filtering/transformation is
// needed between the event source and the transport.
type SinkSubscriber struct {
	Sink Sink
}

// Notify implements Subscriber.
func (s SinkSubscriber) Notify(ctx context.Context, event Event) error {
	return s.Sink.Send(ctx, event)
}
