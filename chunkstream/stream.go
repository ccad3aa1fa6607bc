// Package chunkstream implements the streaming subsystem (C6): ordered
// chunked transfer with a reorder buffer, checksum integrity, credit-
// window backpressure, and cooperative cancellation. This is a distinct
// concern from package stream, which is the teacher's SSE/websocket
// TaskEvent fan-out retained as the C3 task-update delivery mechanism
// (see DESIGN.md).
package chunkstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/a2afabric/broker/a2aerr"
)

// StreamType classifies what a Stream carries.
type StreamType string

const (
	TypeData  StreamType = "data"
	TypeFile  StreamType = "file"
	TypeEvent StreamType = "event"
	TypeTask  StreamType = "task"
	TypeAudio StreamType = "audio"
	TypeVideo StreamType = "video"
)

// CloseKind names why a stream ended.
type CloseKind string

const (
	CloseCompleted CloseKind = "completed"
	CloseCancelled CloseKind = "cancelled"
	CloseFailed    CloseKind = "failed"
)

// StreamChunk is one ordered unit of a stream's payload.
type StreamChunk struct {
	Sequence uint64
	Data     []byte
	IsFinal  bool
	Checksum string // hex sha256, optional
}

// Checksum computes the canonical checksum for a chunk's data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Options configures a Stream.
type Options struct {
	Type          StreamType
	Metadata      map[string]any
	ReorderWindow int // max out-of-order chunks buffered before a gap is rejected
	Credits       int // in-flight chunk budget before backpressure
	CancelDeadline time.Duration
}

// Stream is one open chunked transfer. Producers call SendChunk in
// sequence order (or within ReorderWindow of it); consumers call Receive
// to drain delivered, in-order chunks and ReplenishCredit after
// processing each one.
type Stream struct {
	ID   string
	Type StreamType

	mu       sync.Mutex
	closed   bool
	closeErr error
	nextSeq  uint64
	buffer   map[uint64]StreamChunk
	window   int
	credits  int
	inFlight int
	deadline time.Duration

	out    chan StreamChunk
	cancel chan struct{}
}

// Open creates a new Stream in the open state.
func Open(id string, opts Options) *Stream {
	if opts.ReorderWindow <= 0 {
		opts.ReorderWindow = 16
	}
	if opts.Credits <= 0 {
		opts.Credits = 32
	}
	if opts.CancelDeadline <= 0 {
		opts.CancelDeadline = 5 * time.Second
	}
	return &Stream{
		ID:       id,
		Type:     opts.Type,
		buffer:   make(map[uint64]StreamChunk),
		window:   opts.ReorderWindow,
		credits:  opts.Credits,
		deadline: opts.CancelDeadline,
		out:      make(chan StreamChunk, opts.Credits),
		cancel:   make(chan struct{}),
	}
}

// Receive returns the channel of in-order, delivered chunks.
func (s *Stream) Receive() <-chan StreamChunk { return s.out }

// SendChunk enforces strictly-increasing sequence numbers: duplicates are
// rejected outright, chunks within ReorderWindow of the expected sequence
// are buffered and released in order, and chunks more than ReorderWindow
// ahead of the expected sequence (a gap too large to tolerate) are
// rejected. Checksum, when present, is verified before release.
func (s *Stream) SendChunk(chunk StreamChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return a2aerr.New(a2aerr.TaskTerminal, "stream %s: chunk sent after close", s.ID)
	}
	if chunk.Sequence < s.nextSeq {
		return a2aerr.New(a2aerr.InvalidMessage, "stream %s: duplicate sequence %d (next=%d)", s.ID, chunk.Sequence, s.nextSeq)
	}
	if chunk.Sequence-s.nextSeq > uint64(s.window) {
		return a2aerr.New(a2aerr.InvalidMessage, "stream %s: sequence %d exceeds reorder window of %d", s.ID, chunk.Sequence, s.window)
	}
	if chunk.Checksum != "" && Checksum(chunk.Data) != chunk.Checksum {
		s.failLocked(a2aerr.ChecksumMismatch)
		return a2aerr.New(a2aerr.ChecksumMismatch, "stream %s: checksum mismatch at sequence %d", s.ID, chunk.Sequence)
	}
	if s.inFlight >= s.credits {
		return a2aerr.New(a2aerr.BackpressureExceeded, "stream %s: credit window exhausted (%d in flight)", s.ID, s.inFlight)
	}

	s.buffer[chunk.Sequence] = chunk
	for {
		next, ok := s.buffer[s.nextSeq]
		if !ok {
			break
		}
		delete(s.buffer, s.nextSeq)
		s.nextSeq++
		s.inFlight++
		s.out <- next
		if next.IsFinal {
			s.completeLocked()
			break
		}
	}
	return nil
}

// ReplenishCredit returns one unit of credit to the window after a
// consumer finishes processing a delivered chunk.
func (s *Stream) ReplenishCredit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
}

func (s *Stream) completeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

func (s *Stream) failLocked(kind a2aerr.Kind) {
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = a2aerr.New(kind, "stream %s failed", s.ID)
	close(s.out)
}

// Close ends the stream with the given reason, rejecting any further
// SendChunk calls.
func (s *Stream) Close(kind CloseKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if kind == CloseFailed {
		s.closeErr = a2aerr.New(a2aerr.Internal, "stream %s closed: failed", s.ID)
	}
	close(s.out)
	return nil
}

// Cancel requests cooperative cancellation: it closes the Cancelled
// channel so producer and consumer can observe the signal, then waits
// until CancelDeadline elapses or ctx is done and closes the stream as
// cancelled itself.
func (s *Stream) Cancel(ctx context.Context) error {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()
	select {
	case <-s.cancel:
	default:
		close(s.cancel)
	}
	select {
	case <-time.After(deadline):
		return s.Close(CloseCancelled)
	case <-ctx.Done():
		return s.Close(CloseCancelled)
	}
}

// Cancelled returns a channel closed once Cancel has been called.
func (s *Stream) Cancelled() <-chan struct{} { return s.cancel }

// Err returns the terminal error, if the stream closed as Failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// String satisfies fmt.Stringer for diagnostics.
func (s *Stream) String() string {
	return fmt.Sprintf("stream{id=%s type=%s}", s.ID, s.Type)
}
