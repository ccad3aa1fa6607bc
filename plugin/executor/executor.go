// Package executor provides registry-backed capability execution. It routes
// capability invocations through the registry gateway and awaits results on
// result streams.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/a2afabric/broker/a2a/types"
	"github.com/a2afabric/broker/codec"
	"github.com/a2afabric/broker/plugin"
	"github.com/a2afabric/broker/stream"
	pulsec "github.com/a2afabric/broker/streamtransport/clients/pulse"
	"github.com/a2afabric/broker/telemetry"
	"goa.design/pulse/streaming/options"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Client initiates capability calls through a registry gateway.
	Client interface {
		CallCapability(ctx context.Context, provider string, capability codec.Ident, payload []byte, meta plugin.CallMeta) (callUseID string, resultStreamID string, err error)
	}

	// SpecLookup resolves capability specifications for decoding results.
	SpecLookup interface {
		Spec(name codec.Ident) (*CapabilitySpec, bool)
	}

	// CapabilitySpec describes the provider routing and payload/result
	// codecs for a registered capability.
	CapabilitySpec struct {
		// Provider is the registration ID of the provider that serves the capability.
		Provider string
		Payload  codec.TypeSpec
		Result   codec.TypeSpec
	}

	// Request is a capability invocation awaiting dispatch.
	Request struct {
		Name    codec.Ident
		Payload []byte
	}

	// Result is the outcome of a dispatched capability call.
	Result struct {
		Name      codec.Ident
		CallID    string
		Result    any
		RetryHint *RetryHint
		Error     *CallError
	}

	// CallError describes a failed capability call in caller-facing terms.
	CallError struct {
		Message string
	}

	// RetryReason classifies why a capability call should be retried with
	// repaired arguments.
	RetryReason string

	// RetryHint carries structured repair guidance for a failed capability
	// call so an upstream agent can correct and resend the request.
	RetryHint struct {
		Reason             RetryReason
		Capability         codec.Ident
		MissingFields      []string
		ExampleInput       map[string]any
		ClarifyingQuestion string
	}

	Executor struct {
		client Client
		pulse  pulsec.Client
		specs  SpecLookup

		sinkName       string
		resultEventKey string
		outputDeltaKey string
		streamSink     stream.Sink

		logger telemetry.Logger
		tracer telemetry.Tracer
	}

	Option func(*Executor)

	// sinkFailureDiagnostics captures stable, high-signal context for sink join
	// failures so production incidents can be correlated across run/pod/node and
	// quickly classified as DNS or generic network failures.
	sinkFailureDiagnostics struct {
		hostName               string
		podName                string
		nodeName               string
		ctxHasDeadline         bool
		ctxDeadlineRemainingMs int64
		netTimeout             bool
		dnsError               bool
		dnsName                string
		dnsServer              string
		dnsIsTimeout           bool
		dnsIsTemporary         bool
	}
)

const (
	RetryReasonInvalidArguments RetryReason = "invalid_arguments"
	RetryReasonMissingFields    RetryReason = "missing_fields"
	RetryReasonTimeout          RetryReason = "timeout"
)

// NewCallError builds a CallError from a message.
func NewCallError(message string) *CallError {
	return &CallError{Message: message}
}

// CallErrorFromError builds a CallError from a Go error.
func CallErrorFromError(err error) *CallError {
	if err == nil {
		return nil
	}
	return &CallError{Message: err.Error()}
}

// WithSinkName sets the sink/consumer-group name used when subscribing to
// per-call result streams. Callers should use a stable name across restarts so
// pending entries are not orphaned in Redis.
func WithSinkName(name string) Option {
	return func(e *Executor) {
		e.sinkName = name
	}
}

// WithResultEventKey sets the stream event name used for canonical
// ResultMessage payloads on per-call result streams.
func WithResultEventKey(key string) Option {
	return func(e *Executor) {
		e.resultEventKey = key
	}
}

// WithStreamSink configures the executor to forward best-effort output delta
// frames into the provided stream sink while it waits for the canonical
// capability result message. This does not affect execution semantics: the
// final result remains authoritative.
func WithStreamSink(sink stream.Sink) Option {
	return func(e *Executor) {
		e.streamSink = sink
	}
}

// WithLogger configures the executor logger. When nil, the executor uses a noop
// logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithTracer configures the executor tracer. When nil, the executor uses a noop
// tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func New(client Client, pulse pulsec.Client, specs SpecLookup, opts ...Option) *Executor {
	e := &Executor{
		client:         client,
		pulse:          pulse,
		specs:          specs,
		sinkName:       "router",
		resultEventKey: "result",
		outputDeltaKey: plugin.OutputDeltaEventKey,
		logger:         telemetry.NewNoopLogger(),
		tracer:         telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

func (e *Executor) Execute(ctx context.Context, meta *plugin.CallMeta, call *Request) (*Result, error) {
	if call == nil {
		return &Result{Error: NewCallError("capability request is nil")}, nil
	}
	if meta == nil {
		return &Result{Name: call.Name, Error: NewCallError("call meta is nil")}, nil
	}
	if e.client == nil {
		return &Result{Name: call.Name, Error: NewCallError("registry client is nil")}, nil
	}
	if e.pulse == nil {
		return &Result{Name: call.Name, Error: NewCallError("pulse client is nil")}, nil
	}
	if e.specs == nil {
		return &Result{Name: call.Name, Error: NewCallError("capability specs lookup is nil")}, nil
	}

	spec, ok := e.specs.Spec(call.Name)
	if !ok {
		return &Result{Name: call.Name, Error: NewCallError(fmt.Sprintf("unknown capability %q", call.Name))}, nil
	}
	providerID := spec.Provider
	if providerID == "" {
		return &Result{Name: call.Name, Error: NewCallError(fmt.Sprintf("capability %q missing provider routing id", call.Name))}, nil
	}

	tracer := e.tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	ctx, span := tracer.Start(
		ctx,
		"plugin.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("plugin.provider", providerID),
			attribute.String("plugin.capability", call.Name.String()),
			attribute.String("plugin.run_id", meta.RunID),
			attribute.String("plugin.session_id", meta.SessionID),
			attribute.String("plugin.task_id", meta.TaskID),
			attribute.String("plugin.call_id", meta.CallID),
			attribute.String("plugin.parent_call_id", meta.ParentCallID),
			attribute.String("plugin.sink", e.sinkName),
			attribute.String("plugin.result_event_key", e.resultEventKey),
			attribute.String("plugin.output_delta_key", e.outputDeltaKey),
		),
	)
	defer span.End()

	callUseID, resultStreamID, err := e.client.CallCapability(ctx, providerID, call.Name, call.Payload, *meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "call capability via registry failed")
		return &Result{Name: call.Name, Error: CallErrorFromError(err), CallID: meta.CallID}, nil
	}
	span.AddEvent(
		"plugin.call_capability_ok",
		"plugin.call_use_id", callUseID,
		"plugin.result_stream_id", resultStreamID,
	)

	resultStream, err := e.pulse.Stream(resultStreamID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open result stream failed")
		return nil, fmt.Errorf("open capability result stream %q: %w", resultStreamID, err)
	}
	// Result streams are per-call and short-lived. Providers can publish the
	// result very quickly after the registry returns from CallCapability, so we
	// must start at the oldest event to avoid missing an already-published result.
	sink, err := resultStream.NewSink(ctx, e.sinkName, options.WithSinkStartAtOldest())
	if err != nil {
		diag := buildSinkFailureDiagnostics(ctx, err)
		e.logger.Error(
			ctx,
			"capability result stream sink create failed",
			"component", "plugin-executor",
			"provider", providerID,
			"capability", call.Name,
			"call_use_id", callUseID,
			"run_id", meta.RunID,
			"session_id", meta.SessionID,
			"task_id", meta.TaskID,
			"call_id", meta.CallID,
			"result_stream_id", resultStreamID,
			"sink", e.sinkName,
			"host", diag.hostName,
			"pod", diag.podName,
			"node", diag.nodeName,
			"ctx_has_deadline", diag.ctxHasDeadline,
			"ctx_deadline_remaining_ms", diag.ctxDeadlineRemainingMs,
			"net_timeout", diag.netTimeout,
			"dns_error", diag.dnsError,
			"dns_name", diag.dnsName,
			"dns_server", diag.dnsServer,
			"dns_timeout", diag.dnsIsTimeout,
			"dns_temporary", diag.dnsIsTemporary,
			"err", err,
		)
		span.AddEvent(
			"plugin.result_sink_create_failed",
			"plugin.result_stream_id", resultStreamID,
			"plugin.sink", e.sinkName,
			"plugin.error", err.Error(),
			"plugin.host", diag.hostName,
			"plugin.pod", diag.podName,
			"plugin.node", diag.nodeName,
			"plugin.ctx_has_deadline", diag.ctxHasDeadline,
			"plugin.ctx_deadline_remaining_ms", diag.ctxDeadlineRemainingMs,
			"plugin.net_timeout", diag.netTimeout,
			"plugin.dns_error", diag.dnsError,
			"plugin.dns_name", diag.dnsName,
			"plugin.dns_server", diag.dnsServer,
			"plugin.dns_timeout", diag.dnsIsTimeout,
			"plugin.dns_temporary", diag.dnsIsTemporary,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create sink for capability result stream failed")
		return nil, fmt.Errorf("create sink %q for capability result stream %q: %w", e.sinkName, resultStreamID, err)
	}
	defer sink.Close(ctx)
	span.AddEvent("plugin.result_subscribed", "plugin.result_stream_id", resultStreamID)

	events := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "capability result wait canceled")
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				span.RecordError(fmt.Errorf("capability result stream subscription closed"))
				span.SetStatus(codes.Error, "capability result stream subscription closed")
				return nil, fmt.Errorf("capability result stream subscription closed")
			}
			if ev.EventName == e.outputDeltaKey {
				var msg plugin.OutputDeltaMessage
				if err := json.Unmarshal(ev.Payload, &msg); err != nil {
					span.RecordError(err)
					if ackErr := sink.Ack(ctx, ev); ackErr != nil {
						return nil, fmt.Errorf("ack malformed output delta message: %w", ackErr)
					}
					continue
				}
				if msg.CallUseID != callUseID {
					if err := sink.Ack(ctx, ev); err != nil {
						return nil, fmt.Errorf("ack unrelated output delta message: %w", err)
					}
					continue
				}
				if err := sink.Ack(ctx, ev); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "ack output delta message failed")
					return nil, fmt.Errorf("ack output delta message: %w", err)
				}

				if e.streamSink != nil {
					delta := msg.Delta
					te := stream.TaskEvent{
						Session: meta.SessionID,
						Event: &types.TaskEvent{
							Type:   string(stream.EventTypeArtifact),
							TaskID: meta.TaskID,
							Artifact: &types.Artifact{
								Parts: []*types.MessagePart{
									{Type: "text", Text: &delta},
								},
								Append: boolPtr(true),
							},
						},
					}
					if err := e.streamSink.Send(ctx, te); err != nil {
						span.RecordError(err)
						e.logger.Error(
							ctx,
							"publish output delta failed",
							"component", "plugin-executor",
							"call_use_id", callUseID,
							"capability", call.Name,
							"err", err,
						)
					}
				}
				continue
			}
			if ev.EventName != e.resultEventKey {
				if err := sink.Ack(ctx, ev); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "ack non-result event failed")
					return nil, fmt.Errorf("ack capability result stream event: %w", err)
				}
				continue
			}

			var msg plugin.ResultMessage
			if err := json.Unmarshal(ev.Payload, &msg); err != nil {
				span.RecordError(err)
				if ackErr := sink.Ack(ctx, ev); ackErr != nil {
					return nil, fmt.Errorf("ack malformed capability result message: %w", ackErr)
				}
				continue
			}
			if msg.CallUseID != callUseID {
				if err := sink.Ack(ctx, ev); err != nil {
					return nil, fmt.Errorf("ack unrelated capability result message: %w", err)
				}
				continue
			}
			if err := sink.Ack(ctx, ev); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "ack capability result message failed")
				return nil, fmt.Errorf("ack capability result message: %w", err)
			}
			if destroyErr := resultStream.Destroy(ctx); destroyErr != nil {
				span.RecordError(destroyErr)
				span.SetStatus(codes.Error, "destroy capability result stream failed")
				return nil, fmt.Errorf("destroy capability result stream %q: %w", resultStreamID, destroyErr)
			}
			span.AddEvent(
				"plugin.result_received",
				"plugin.call_use_id", callUseID,
				"plugin.result_stream_id", resultStreamID,
			)
			span.SetStatus(codes.Ok, "ok")
			return e.decodeResult(spec, call, meta.CallID, msg), nil
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func (e *Executor) decodeResult(spec *CapabilitySpec, call *Request, callID string, msg plugin.ResultMessage) *Result {
	name := codec.Ident("")
	if call != nil {
		name = call.Name
	}
	out := &Result{
		Name:   name,
		CallID: callID,
	}
	if msg.Error != nil {
		out.Error = NewCallError(msg.Error.Message)
		if hint := buildRetryHintFromIssues(name, spec, msg.Error.Issues); hint != nil {
			out.RetryHint = hint
		} else if hint := retryHintFromCallErrorCode(name, msg.Error.Code); hint != nil {
			out.RetryHint = hint
		}
		if out.RetryHint != nil && out.RetryHint.ExampleInput == nil {
			out.RetryHint.ExampleInput = cloneExampleInput(spec)
		}
		return out
	}
	if spec.Result.Codec.FromJSON != nil {
		res, err := spec.Result.Codec.FromJSON(msg.Result)
		if err != nil {
			out.Error = CallErrorFromError(err)
			return out
		}
		out.Result = res
	}
	return out
}

func retryHintFromCallErrorCode(capability codec.Ident, code string) *RetryHint {
	switch code {
	case "invalid_input":
		// Service-level invalid_input errors should surface as invalid input to callers.
		return &RetryHint{
			Reason:     RetryReasonInvalidArguments,
			Capability: capability,
		}
	case "invalid_arguments":
		// Capability-codec validation errors are surfaced by providers as
		// invalid_arguments. These are always caller-actionable: they indicate
		// the payload did not satisfy the capability schema (missing fields,
		// enum violations, range constraints, etc.).
		return &RetryHint{
			Reason:     RetryReasonInvalidArguments,
			Capability: capability,
		}
	case "timeout":
		return &RetryHint{
			Reason:     RetryReasonTimeout,
			Capability: capability,
		}
	}
	return nil
}

func buildRetryHintFromIssues(capability codec.Ident, spec *CapabilitySpec, issues []*codec.FieldIssue) *RetryHint {
	if len(issues) == 0 {
		return nil
	}
	fields := make([]string, 0, len(issues))
	missing := make([]string, 0, len(issues))
	for _, is := range issues {
		if is == nil || is.Field == "" {
			continue
		}
		fields = append(fields, is.Field)
		if is.Constraint == "missing_field" {
			missing = append(missing, is.Field)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	fields = uniqueStrings(fields)
	missing = uniqueStrings(missing)
	sort.Strings(fields)
	sort.Strings(missing)

	question := buildClarifyingQuestion(capability, missing, fields)
	var example map[string]any
	if spec != nil && len(spec.Payload.ExampleInput) > 0 {
		example = spec.Payload.ExampleInput
	}
	reason := RetryReasonInvalidArguments
	if len(missing) > 0 {
		reason = RetryReasonMissingFields
	}
	return &RetryHint{
		Reason:             reason,
		Capability:         capability,
		MissingFields:      missing,
		ExampleInput:       example,
		ClarifyingQuestion: question,
	}
}

func buildClarifyingQuestion(capability codec.Ident, missing, fields []string) string {
	if len(missing) > 0 {
		return "I need additional information to run " + capability.String() + ". Please provide: " + strings.Join(missing, ", ") + "."
	}
	return "I could not run " + capability.String() + " due to invalid arguments. Please correct: " + strings.Join(fields, ", ") + " and resend the call."
}

func cloneExampleInput(spec *CapabilitySpec) map[string]any {
	if spec == nil || len(spec.Payload.ExampleInput) == 0 {
		return nil
	}
	return cloneAnyMap(spec.Payload.ExampleInput)
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(in any) any {
	switch v := in.(type) {
	case map[string]any:
		return cloneAnyMap(v)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = cloneAny(v[i])
		}
		return out
	default:
		return in
	}
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// buildSinkFailureDiagnostics extracts deterministic runtime context for sink
// creation failures (deadline state, host identity, and net/DNS classification)
// without mutating control flow.
func buildSinkFailureDiagnostics(ctx context.Context, err error) sinkFailureDiagnostics {
	diag := sinkFailureDiagnostics{
		hostName: firstNonEmpty(os.Getenv("HOSTNAME"), "unknown"),
		podName:  firstNonEmpty(os.Getenv("POD_NAME"), os.Getenv("HOSTNAME"), "unknown"),
		nodeName: firstNonEmpty(os.Getenv("K8S_NODE_NAME"), os.Getenv("NODE_NAME"), "unknown"),
	}
	if host, hostErr := os.Hostname(); hostErr == nil && host != "" {
		diag.hostName = host
		if diag.podName == "unknown" {
			diag.podName = host
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		diag.ctxHasDeadline = true
		diag.ctxDeadlineRemainingMs = time.Until(deadline).Milliseconds()
	}
	var networkError net.Error
	if errors.As(err, &networkError) {
		diag.netTimeout = networkError.Timeout()
	}
	var dnsError *net.DNSError
	if errors.As(err, &dnsError) {
		diag.dnsError = true
		diag.dnsName = dnsError.Name
		diag.dnsServer = dnsError.Server
		diag.dnsIsTimeout = dnsError.IsTimeout
		diag.dnsIsTemporary = dnsError.IsTemporary
	}
	return diag
}

// firstNonEmpty returns the first non-empty string from values, or an empty
// string if none are set.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
