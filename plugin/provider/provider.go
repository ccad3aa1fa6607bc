// Package provider implements the provider-side streaming subscription loop
// for registry-routed capability execution. Providers receive capability
// calls from a provider stream and publish results to per-call result
// streams.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/a2afabric/broker/plugin"
	pulseclients "github.com/a2afabric/broker/streamtransport/clients/pulse"
	"github.com/a2afabric/broker/telemetry"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Handler executes capability calls received from a provider stream.
	// Implementations are responsible for decoding/encoding capability
	// payload/result using the compiled codecs for their provider.
	Handler interface {
		HandleCall(ctx context.Context, msg plugin.CallMessage) (plugin.ResultMessage, error)
	}

	// Options configure the provider loop.
	Options struct {
		// SinkName identifies the stream sink used for subscribing.
		// When empty, defaults to "provider".
		SinkName string

		// ResultEventType is the stream entry type used for publishing results.
		// When empty, defaults to "result".
		ResultEventType string

		// SinkAckGracePeriod configures the stream sink acknowledgement grace
		// period. When non-zero, Serve passes it to the sink.
		//
		// This value must be identical across all providers using the same sink
		// name for a given provider stream.
		//
		// Important: If a capability call can take longer than the sink ack grace
		// period and the provider only Ack's after publishing the result,
		// the stream may reclaim and re-deliver the call while it is still in
		// flight. Deployments should set this high enough to cover worst-case
		// capability execution time.
		SinkAckGracePeriod time.Duration

		// Pong acknowledges health pings emitted by the registry gateway.
		// Providers must supply this to participate in health tracking.
		Pong func(ctx context.Context, pingID string) error

		// MaxConcurrentCalls caps the number of capability calls executed
		// concurrently by this provider (worker pool size).
		//
		// Serve drains the provider stream in a dedicated loop and enqueues
		// calls for workers; it does not execute calls inline. This option
		// exists to bound provider-side resource usage (CPU, memory, upstream
		// concurrency) and to avoid overload amplification.
		//
		// When 0, Serve defaults to a small, safe value.
		MaxConcurrentCalls int

		// MaxQueuedCalls bounds how many calls may be buffered for worker
		// execution. When 0, defaults to a value derived from MaxConcurrentCalls.
		//
		// The provider subscription loop never blocks on capability execution.
		// Instead, it enqueues calls and continues draining the provider stream
		// so it can respond to health pings.
		MaxQueuedCalls int

		// Logger is used for provider internal logging. When nil, defaults to a noop logger.
		Logger telemetry.Logger

		// Tracer is used for provider spans. When nil, defaults to a noop tracer.
		Tracer telemetry.Tracer
	}
)

// Serve subscribes to the provider request stream and dispatches capability
// call messages to handler. It publishes results to per-call result streams.
func Serve(ctx context.Context, pulse pulseclients.Client, provider string, handler Handler, opts Options) error {
	if pulse == nil {
		return fmt.Errorf("pulse client is required")
	}
	if provider == "" {
		return fmt.Errorf("provider is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = "provider"
	}
	resultEventType := opts.ResultEventType
	if resultEventType == "" {
		resultEventType = "result"
	}
	if opts.Pong == nil {
		return fmt.Errorf("pong handler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	maxConcurrent := opts.MaxConcurrentCalls
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	maxQueued := opts.MaxQueuedCalls
	if maxQueued <= 0 {
		maxQueued = maxConcurrent * 64
	}

	streamID := plugin.ProviderStreamID(provider)
	stream, err := pulse.Stream(streamID)
	if err != nil {
		return fmt.Errorf("open provider stream %q: %w", streamID, err)
	}
	var sinkOpts []streamopts.Sink
	if opts.SinkAckGracePeriod > 0 {
		sinkOpts = append(sinkOpts, streamopts.WithSinkAckGracePeriod(opts.SinkAckGracePeriod))
	}
	sink, err := stream.NewSink(ctx, sinkName, sinkOpts...)
	if err != nil {
		return fmt.Errorf("create sink %q for provider stream %q: %w", sinkName, streamID, err)
	}
	defer sink.Close(ctx)

	logger.Debug(
		ctx,
		"plugin provider subscribed",
		"component", "plugin-provider",
		"provider", provider,
		"stream_id", streamID,
		"sink", sinkName,
	)

	events := sink.Subscribe()
	var (
		cancelCtx, cancel = context.WithCancel(ctx)
		wg                sync.WaitGroup
		errc              = make(chan error, 1)
	)
	defer cancel()

	type workItem struct {
		ev  *streaming.Event
		msg plugin.CallMessage
	}

	work := make(chan workItem, maxQueued)
	acks := make(chan *streaming.Event, maxQueued+1024)

	signalErr := func(err error) {
		select {
		case errc <- err:
			cancel()
		default:
		}
	}

	ackWG := sync.WaitGroup{}
	ackWG.Add(1)
	go func() {
		defer ackWG.Done()
		for {
			select {
			case <-cancelCtx.Done():
				return
			case ev := <-acks:
				if ev == nil {
					continue
				}
				if err := sink.Ack(cancelCtx, ev); err != nil {
					signalErr(fmt.Errorf("ack provider event: %w", err))
					return
				}
			}
		}
	}()

	wg.Add(maxConcurrent)
	for i := 0; i < maxConcurrent; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-cancelCtx.Done():
					return
				case item := <-work:
					callCtx := plugin.ExtractTraceContext(cancelCtx, item.msg.TraceParent, item.msg.TraceState, item.msg.Baggage)
					callCtx, span := tracer.Start(
						callCtx,
						"plugin.handle",
						trace.WithSpanKind(trace.SpanKindConsumer),
						trace.WithAttributes(
							attribute.String("messaging.system", "pulse"),
							attribute.String("messaging.destination.name", streamID),
							attribute.String("messaging.operation", "process"),
							attribute.String("messaging.message.id", item.ev.ID),
							attribute.String("plugin.provider", provider),
							attribute.String("plugin.call_use_id", item.msg.CallUseID),
							attribute.String("plugin.capability", item.msg.Capability.String()),
							attribute.String("plugin.stream_id", streamID),
							attribute.String("plugin.event_id", item.ev.ID),
						),
					)

					res, err := handler.HandleCall(callCtx, item.msg)
					if err != nil {
						span.RecordError(err)
						span.SetStatus(codes.Error, "handle capability call")
						logger.Error(
							callCtx,
							"capability call handler failed",
							"component", "plugin-provider",
							"provider", provider,
							"call_use_id", item.msg.CallUseID,
							"capability", item.msg.Capability,
							"err", err,
						)
						res = plugin.NewResultErrorMessage(item.msg.CallUseID, "execution_failed", err.Error())
					}

					resultStreamID := plugin.ResultStreamID(item.msg.CallUseID)
					resultStream, streamErr := pulse.Stream(resultStreamID)
					if streamErr != nil {
						span.RecordError(streamErr)
						span.SetStatus(codes.Error, "open result stream")
						span.End()
						signalErr(fmt.Errorf("open result stream %q: %w", resultStreamID, streamErr))
						return
					}
					payload, marshalErr := json.Marshal(res)
					if marshalErr != nil {
						span.RecordError(marshalErr)
						span.SetStatus(codes.Error, "marshal capability result")
						span.End()
						signalErr(fmt.Errorf("marshal capability result: %w", marshalErr))
						return
					}
					if _, addErr := resultStream.Add(callCtx, resultEventType, payload); addErr != nil {
						span.RecordError(addErr)
						span.SetStatus(codes.Error, "publish capability result")
						logger.Error(
							callCtx,
							"publish capability result failed",
							"component", "plugin-provider",
							"provider", provider,
							"call_use_id", item.msg.CallUseID,
							"capability", item.msg.Capability,
							"result_stream_id", resultStreamID,
							"err", addErr,
						)
						span.End()
						signalErr(fmt.Errorf("publish capability result to %q: %w", resultStreamID, addErr))
						return
					}
					span.AddEvent(
						"plugin.result_published",
						"plugin.result_stream_id", resultStreamID,
					)
					span.End()

					select {
					case acks <- item.ev:
					case <-cancelCtx.Done():
					default:
						signalErr(fmt.Errorf("ack queue full"))
						return
					}
				}
			}
		}()
	}

	pending := make([]workItem, 0, maxQueued)
	flushPending := func() {
		for len(pending) > 0 {
			select {
			case work <- pending[0]:
				pending = pending[1:]
			default:
				return
			}
		}
	}

	for {
		select {
		case <-cancelCtx.Done():
			wg.Wait()
			ackWG.Wait()
			return cancelCtx.Err()
		case err := <-errc:
			wg.Wait()
			ackWG.Wait()
			return err
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("provider stream subscription closed")
			}
			flushPending()
			var msg plugin.CallMessage
			if err := json.Unmarshal(ev.Payload, &msg); err != nil {
				logger.Error(
					ctx,
					"unmarshal provider message failed",
					"component", "plugin-provider",
					"provider", provider,
					"stream_id", streamID,
					"event_id", ev.ID,
					"event_name", ev.EventName,
					"err", err,
				)
				if err := sink.Ack(cancelCtx, ev); err != nil {
					return fmt.Errorf("ack malformed provider event: %w", err)
				}
				continue
			}
			switch msg.Type {
			case plugin.MessageTypePing:
				if msg.PingID != "" {
					if err := opts.Pong(cancelCtx, msg.PingID); err != nil {
						logger.Error(
							cancelCtx,
							"pong failed",
							"component", "plugin-provider",
							"provider", provider,
							"stream_id", streamID,
							"event_id", ev.ID,
							"ping_id", msg.PingID,
							"err", err,
						)
					}
				}
				if err := sink.Ack(cancelCtx, ev); err != nil {
					return fmt.Errorf("ack ping provider event: %w", err)
				}
				continue
			case plugin.MessageTypeCall:
			default:
				if err := sink.Ack(cancelCtx, ev); err != nil {
					return fmt.Errorf("ack unknown provider event: %w", err)
				}
				continue
			}
			if msg.CallUseID == "" {
				if err := sink.Ack(cancelCtx, ev); err != nil {
					return fmt.Errorf("ack capability call missing call_use_id: %w", err)
				}
				continue
			}

			select {
			case work <- workItem{ev: ev, msg: msg}:
			default:
				if len(pending) < cap(pending) {
					pending = append(pending, workItem{ev: ev, msg: msg})
				} else {
					// Intentionally do not ack. The stream will reclaim and
					// re-deliver the call after the sink ack grace period.
					logger.Error(
						cancelCtx,
						"capability call queue full; leaving message unacked for later delivery",
						"component", "plugin-provider",
						"provider", provider,
						"call_use_id", msg.CallUseID,
						"capability", msg.Capability,
						"stream_id", streamID,
						"event_id", ev.ID,
						"max_concurrent", maxConcurrent,
						"max_queued", maxQueued,
					)
				}
			case <-cancelCtx.Done():
			}
		}
	}
}
