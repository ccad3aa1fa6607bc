// Package mocks provides a hand-written, queue-based test double for the
// mongo.Client interface. Expectations are enqueued with the Add* methods in
// call order and consumed in order; HasMore reports whether any enqueued
// expectation went unused.
package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/a2afabric/broker/session"
)

type (
	createSessionFunc    func(ctx context.Context, sessionID string, createdAt time.Time) (session.Session, error)
	loadSessionFunc      func(ctx context.Context, sessionID string) (session.Session, error)
	endSessionFunc       func(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error)
	upsertRunFunc        func(ctx context.Context, run session.RunMeta) error
	loadRunFunc          func(ctx context.Context, runID string) (session.RunMeta, error)
	listRunsBySessionFunc func(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunMeta, error)

	// Client is a queue-based mongo.Client test double.
	Client struct {
		t *testing.T

		createSession    []createSessionFunc
		loadSession      []loadSessionFunc
		endSession       []endSessionFunc
		upsertRun        []upsertRunFunc
		loadRun          []loadRunFunc
		listRunsBySession []listRunsBySessionFunc
	}
)

// NewClient returns an empty Client mock bound to t for failure reporting.
func NewClient(t *testing.T) *Client {
	return &Client{t: t}
}

// AddCreateSession enqueues an expectation for a CreateSession call.
func (c *Client) AddCreateSession(fn createSessionFunc) { c.createSession = append(c.createSession, fn) }

// AddLoadSession enqueues an expectation for a LoadSession call.
func (c *Client) AddLoadSession(fn loadSessionFunc) { c.loadSession = append(c.loadSession, fn) }

// AddEndSession enqueues an expectation for an EndSession call.
func (c *Client) AddEndSession(fn endSessionFunc) { c.endSession = append(c.endSession, fn) }

// AddUpsertRun enqueues an expectation for an UpsertRun call.
func (c *Client) AddUpsertRun(fn upsertRunFunc) { c.upsertRun = append(c.upsertRun, fn) }

// AddLoadRun enqueues an expectation for a LoadRun call.
func (c *Client) AddLoadRun(fn loadRunFunc) { c.loadRun = append(c.loadRun, fn) }

// AddListRunsBySession enqueues an expectation for a ListRunsBySession call.
func (c *Client) AddListRunsBySession(fn listRunsBySessionFunc) {
	c.listRunsBySession = append(c.listRunsBySession, fn)
}

// HasMore reports whether any enqueued expectation has not yet been consumed.
func (c *Client) HasMore() bool {
	return len(c.createSession) > 0 || len(c.loadSession) > 0 || len(c.endSession) > 0 ||
		len(c.upsertRun) > 0 || len(c.loadRun) > 0 || len(c.listRunsBySession) > 0
}

// Name implements health.Pinger.
func (c *Client) Name() string { return "session-mongo-mock" }

// Ping implements health.Pinger.
func (c *Client) Ping(context.Context) error { return nil }

func (c *Client) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (session.Session, error) {
	if len(c.createSession) == 0 {
		c.t.Fatalf("unexpected CreateSession(%q) call", sessionID)
	}
	fn := c.createSession[0]
	c.createSession = c.createSession[1:]
	return fn(ctx, sessionID, createdAt)
}

func (c *Client) LoadSession(ctx context.Context, sessionID string) (session.Session, error) {
	if len(c.loadSession) == 0 {
		c.t.Fatalf("unexpected LoadSession(%q) call", sessionID)
	}
	fn := c.loadSession[0]
	c.loadSession = c.loadSession[1:]
	return fn(ctx, sessionID)
}

func (c *Client) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	if len(c.endSession) == 0 {
		c.t.Fatalf("unexpected EndSession(%q) call", sessionID)
	}
	fn := c.endSession[0]
	c.endSession = c.endSession[1:]
	return fn(ctx, sessionID, endedAt)
}

func (c *Client) UpsertRun(ctx context.Context, run session.RunMeta) error {
	if len(c.upsertRun) == 0 {
		c.t.Fatalf("unexpected UpsertRun(%+v) call", run)
	}
	fn := c.upsertRun[0]
	c.upsertRun = c.upsertRun[1:]
	return fn(ctx, run)
}

func (c *Client) LoadRun(ctx context.Context, runID string) (session.RunMeta, error) {
	if len(c.loadRun) == 0 {
		c.t.Fatalf("unexpected LoadRun(%q) call", runID)
	}
	fn := c.loadRun[0]
	c.loadRun = c.loadRun[1:]
	return fn(ctx, runID)
}

func (c *Client) ListRunsBySession(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunMeta, error) {
	if len(c.listRunsBySession) == 0 {
		c.t.Fatalf("unexpected ListRunsBySession(%q) call", sessionID)
	}
	fn := c.listRunsBySession[0]
	c.listRunsBySession = c.listRunsBySession[1:]
	return fn(ctx, sessionID, statuses)
}
