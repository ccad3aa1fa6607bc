// Package mocks provides hand-written test doubles for the pulse.Client,
// pulse.Stream, and pulse.Sink interfaces. Each method supports two
// expectation styles, mirroring the teacher's generated-mock convention:
// Add<Method> enqueues a one-shot expectation consumed in call order
// (HasMore reports whether any enqueued expectation went unused), while
// Set<Method> installs a persistent handler reused across any number of
// calls. A queued expectation always takes priority over a persistent one.
package mocks

import (
	"context"
	"testing"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/a2afabric/broker/streamtransport/clients/pulse"
)

type (
	streamFunc func(name string, opts ...streamopts.Stream) (clientspulse.Stream, error)
	closeFunc  func(ctx context.Context) error

	addFunc     func(ctx context.Context, event string, payload []byte) (string, error)
	newSinkFunc func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error)
	destroyFunc func(ctx context.Context) error

	subscribeFunc func() <-chan *streaming.Event
	ackFunc       func(ctx context.Context, evt *streaming.Event) error
	sinkCloseFunc func(ctx context.Context)
)

// Client is a test double for clientspulse.Client.
type Client struct {
	t *testing.T

	streamQueue []streamFunc
	streamSet   streamFunc
	closeQueue  []closeFunc
	closeSet    closeFunc
}

// NewClient returns an empty Client mock bound to t for failure reporting.
func NewClient(t *testing.T) *Client { return &Client{t: t} }

// AddStream enqueues a one-shot expectation for a Stream call.
func (c *Client) AddStream(fn streamFunc) { c.streamQueue = append(c.streamQueue, fn) }

// SetStream installs a persistent handler for Stream calls.
func (c *Client) SetStream(fn streamFunc) { c.streamSet = fn }

// AddClose enqueues a one-shot expectation for a Close call.
func (c *Client) AddClose(fn closeFunc) { c.closeQueue = append(c.closeQueue, fn) }

// SetClose installs a persistent handler for Close calls.
func (c *Client) SetClose(fn closeFunc) { c.closeSet = fn }

// HasMore reports whether any enqueued expectation has not yet been consumed.
func (c *Client) HasMore() bool { return len(c.streamQueue) > 0 || len(c.closeQueue) > 0 }

func (c *Client) Stream(name string, opts ...streamopts.Stream) (clientspulse.Stream, error) {
	if len(c.streamQueue) > 0 {
		fn := c.streamQueue[0]
		c.streamQueue = c.streamQueue[1:]
		return fn(name, opts...)
	}
	if c.streamSet != nil {
		return c.streamSet(name, opts...)
	}
	c.t.Fatalf("unexpected Stream(%q) call", name)
	return nil, nil
}

func (c *Client) Close(ctx context.Context) error {
	if len(c.closeQueue) > 0 {
		fn := c.closeQueue[0]
		c.closeQueue = c.closeQueue[1:]
		return fn(ctx)
	}
	if c.closeSet != nil {
		return c.closeSet(ctx)
	}
	c.t.Fatalf("unexpected Close() call")
	return nil
}

// Stream is a test double for clientspulse.Stream.
type Stream struct {
	t *testing.T

	addQueue []addFunc
	addSet   addFunc

	newSinkQueue []newSinkFunc
	newSinkSet   newSinkFunc

	destroyQueue []destroyFunc
	destroySet   destroyFunc
}

// NewStream returns an empty Stream mock bound to t for failure reporting.
func NewStream(t *testing.T) *Stream { return &Stream{t: t} }

// AddAdd enqueues a one-shot expectation for an Add call.
func (s *Stream) AddAdd(fn addFunc) { s.addQueue = append(s.addQueue, fn) }

// SetAdd installs a persistent handler for Add calls.
func (s *Stream) SetAdd(fn addFunc) { s.addSet = fn }

// AddNewSink enqueues a one-shot expectation for a NewSink call.
func (s *Stream) AddNewSink(fn newSinkFunc) { s.newSinkQueue = append(s.newSinkQueue, fn) }

// SetNewSink installs a persistent handler for NewSink calls.
func (s *Stream) SetNewSink(fn newSinkFunc) { s.newSinkSet = fn }

// AddDestroy enqueues a one-shot expectation for a Destroy call.
func (s *Stream) AddDestroy(fn destroyFunc) { s.destroyQueue = append(s.destroyQueue, fn) }

// SetDestroy installs a persistent handler for Destroy calls.
func (s *Stream) SetDestroy(fn destroyFunc) { s.destroySet = fn }

// HasMore reports whether any enqueued expectation has not yet been consumed.
func (s *Stream) HasMore() bool {
	return len(s.addQueue) > 0 || len(s.newSinkQueue) > 0 || len(s.destroyQueue) > 0
}

func (s *Stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if len(s.addQueue) > 0 {
		fn := s.addQueue[0]
		s.addQueue = s.addQueue[1:]
		return fn(ctx, event, payload)
	}
	if s.addSet != nil {
		return s.addSet(ctx, event, payload)
	}
	s.t.Fatalf("unexpected Add(%q) call", event)
	return "", nil
}

func (s *Stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	if len(s.newSinkQueue) > 0 {
		fn := s.newSinkQueue[0]
		s.newSinkQueue = s.newSinkQueue[1:]
		return fn(ctx, name, opts...)
	}
	if s.newSinkSet != nil {
		return s.newSinkSet(ctx, name, opts...)
	}
	s.t.Fatalf("unexpected NewSink(%q) call", name)
	return nil, nil
}

func (s *Stream) Destroy(ctx context.Context) error {
	if len(s.destroyQueue) > 0 {
		fn := s.destroyQueue[0]
		s.destroyQueue = s.destroyQueue[1:]
		return fn(ctx)
	}
	if s.destroySet != nil {
		return s.destroySet(ctx)
	}
	s.t.Fatalf("unexpected Destroy() call")
	return nil
}

// Sink is a test double for clientspulse.Sink.
type Sink struct {
	t *testing.T

	subscribeQueue []subscribeFunc
	subscribeSet   subscribeFunc

	ackQueue []ackFunc
	ackSet   ackFunc

	closeQueue []sinkCloseFunc
	closeSet   sinkCloseFunc
}

// NewSink returns an empty Sink mock bound to t for failure reporting.
func NewSink(t *testing.T) *Sink { return &Sink{t: t} }

// AddSubscribe enqueues a one-shot expectation for a Subscribe call.
func (s *Sink) AddSubscribe(fn subscribeFunc) { s.subscribeQueue = append(s.subscribeQueue, fn) }

// SetSubscribe installs a persistent handler for Subscribe calls.
func (s *Sink) SetSubscribe(fn subscribeFunc) { s.subscribeSet = fn }

// AddAck enqueues a one-shot expectation for an Ack call.
func (s *Sink) AddAck(fn ackFunc) { s.ackQueue = append(s.ackQueue, fn) }

// SetAck installs a persistent handler for Ack calls.
func (s *Sink) SetAck(fn ackFunc) { s.ackSet = fn }

// AddClose enqueues a one-shot expectation for a Close call.
func (s *Sink) AddClose(fn sinkCloseFunc) { s.closeQueue = append(s.closeQueue, fn) }

// SetClose installs a persistent handler for Close calls.
func (s *Sink) SetClose(fn sinkCloseFunc) { s.closeSet = fn }

// HasMore reports whether any enqueued expectation has not yet been consumed.
func (s *Sink) HasMore() bool {
	return len(s.subscribeQueue) > 0 || len(s.ackQueue) > 0 || len(s.closeQueue) > 0
}

func (s *Sink) Subscribe() <-chan *streaming.Event {
	if len(s.subscribeQueue) > 0 {
		fn := s.subscribeQueue[0]
		s.subscribeQueue = s.subscribeQueue[1:]
		return fn()
	}
	if s.subscribeSet != nil {
		return s.subscribeSet()
	}
	s.t.Fatalf("unexpected Subscribe() call")
	return nil
}

func (s *Sink) Ack(ctx context.Context, evt *streaming.Event) error {
	if len(s.ackQueue) > 0 {
		fn := s.ackQueue[0]
		s.ackQueue = s.ackQueue[1:]
		return fn(ctx, evt)
	}
	if s.ackSet != nil {
		return s.ackSet(ctx, evt)
	}
	s.t.Fatalf("unexpected Ack() call")
	return nil
}

func (s *Sink) Close(ctx context.Context) {
	if len(s.closeQueue) > 0 {
		fn := s.closeQueue[0]
		s.closeQueue = s.closeQueue[1:]
		fn(ctx)
		return
	}
	if s.closeSet != nil {
		s.closeSet(ctx)
		return
	}
	s.t.Fatalf("unexpected Close() call")
}
