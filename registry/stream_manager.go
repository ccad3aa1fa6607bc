// Package registry provides the internal tool registry service implementation.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientspulse "github.com/a2afabric/broker/streamtransport/clients/pulse"
	"github.com/a2afabric/broker/plugin"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StreamManager manages Pulse streams for toolset communication.
// It creates and tracks streams for each registered toolset, enabling
// tool request routing and result delivery.
type StreamManager interface {
	// GetOrCreateStream returns the stream for a toolset, creating it if needed.
	// The stream ID is deterministic based on the toolset name.
	GetOrCreateStream(ctx context.Context, toolset string) (clientspulse.Stream, string, error)

	// GetStream returns the stream for a toolset if it exists.
	// Returns nil if the toolset has no associated stream.
	GetStream(toolset string) clientspulse.Stream

	// RemoveStream removes the stream tracking for a toolset.
	// This does not destroy the underlying Pulse stream.
	RemoveStream(toolset string)

	// PublishToolCall publishes a tool call message to the toolset's stream.
	PublishToolCall(ctx context.Context, toolset string, msg plugin.CallMessage) error
}

// streamManager is the default implementation of StreamManager.
type streamManager struct {
	client  clientspulse.Client
	mu      sync.RWMutex
	streams map[string]clientspulse.Stream
}

// NewStreamManager creates a new StreamManager backed by the given Pulse client.
func NewStreamManager(client clientspulse.Client) StreamManager {
	return &streamManager{
		client:  client,
		streams: make(map[string]clientspulse.Stream),
	}
}

// streamIDForToolset returns the deterministic stream ID for a toolset.
func streamIDForToolset(toolset string) string {
	return fmt.Sprintf("toolset:%s:requests", toolset)
}

// GetOrCreateStream returns the stream for a toolset, creating it if needed.
func (m *streamManager) GetOrCreateStream(ctx context.Context, toolset string) (clientspulse.Stream, string, error) {
	streamID := streamIDForToolset(toolset)

	// Fast path: check if stream already exists.
	m.mu.RLock()
	if stream, ok := m.streams[toolset]; ok {
		m.mu.RUnlock()
		return stream, streamID, nil
	}
	m.mu.RUnlock()

	// Slow path: create stream under write lock.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if stream, ok := m.streams[toolset]; ok {
		return stream, streamID, nil
	}

	stream, err := m.client.Stream(streamID)
	if err != nil {
		return nil, "", fmt.Errorf("create stream for toolset %q: %w", toolset, err)
	}
	m.streams[toolset] = stream
	return stream, streamID, nil
}

// GetStream returns the stream for a toolset if it exists.
func (m *streamManager) GetStream(toolset string) clientspulse.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[toolset]
}

// RemoveStream removes the stream tracking for a toolset.
func (m *streamManager) RemoveStream(toolset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, toolset)
}

// PublishToolCall publishes a tool call message to the toolset's stream.
// It lazily creates a local stream handle if one doesn't exist, enabling
// cross-node tool invocation where the toolset was registered on a different node.
func (m *streamManager) PublishToolCall(ctx context.Context, toolset string, msg plugin.CallMessage) error {
	// Use GetOrCreateStream to handle cross-node scenarios where the toolset
	// was registered on a different gateway node.
	stream, streamID, err := m.GetOrCreateStream(ctx, toolset)
	if err != nil {
		return fmt.Errorf("get stream for toolset %q: %w", toolset, err)
	}

	if msg.Type == plugin.MessageTypeCall {
		tracer := otel.Tracer("github.com/a2afabric/broker/registry")
		var span trace.Span
		ctx, span = tracer.Start(
			ctx,
			"plugin.publish",
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(
				attribute.String("messaging.system", "pulse"),
				attribute.String("messaging.destination.name", streamID),
				attribute.String("messaging.operation", "publish"),
				attribute.String("plugin.toolset", toolset),
				attribute.String("plugin.call_use_id", msg.CallUseID),
				attribute.String("plugin.capability", msg.Capability.String()),
				attribute.String("plugin.stream_id", streamID),
			),
		)
		defer span.End()

		msg.TraceParent, msg.TraceState, msg.Baggage = plugin.InjectTraceContext(ctx)
		if msg.TraceParent != "" {
			span.SetAttributes(attribute.Bool("plugin.trace_injected", true))
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		if msg.Type == plugin.MessageTypeCall {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, "marshal tool call message")
		}
		return fmt.Errorf("marshal tool call message: %w", err)
	}

	eventID, err := stream.Add(ctx, string(msg.Type), payload)
	if err != nil {
		if msg.Type == plugin.MessageTypeCall {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish to stream")
		}
		return fmt.Errorf("publish to stream: %w", err)
	}
	if msg.Type == plugin.MessageTypeCall {
		trace.SpanFromContext(ctx).AddEvent(
			"plugin.tool_call_published",
			trace.WithAttributes(attribute.String("plugin.event_id", eventID)),
		)
	}
	return nil
}
