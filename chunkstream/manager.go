package chunkstream

import (
	"sync"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/google/uuid"
)

// Manager tracks open streams by id, implementing the open/send_chunk/
// close/cancel contract at the package boundary (spec.md §4.6).
type Manager struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewManager constructs an empty stream Manager.
func NewManager() *Manager {
	return &Manager{streams: make(map[string]*Stream)}
}

// OpenStream allocates a fresh stream id and registers a new Stream.
func (m *Manager) OpenStream(opts Options) *Stream {
	id := uuid.NewString()
	s := Open(id, opts)
	m.mu.Lock()
	m.streams[id] = s
	m.mu.Unlock()
	return s
}

// Get looks up a stream by id.
func (m *Manager) Get(id string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return nil, a2aerr.New(a2aerr.TaskNotFound, "stream %s not found", id)
	}
	return s, nil
}

// CloseStream closes and forgets a stream.
func (m *Manager) CloseStream(id string, kind CloseKind) error {
	m.mu.Lock()
	s, ok := m.streams[id]
	delete(m.streams, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(kind)
}
