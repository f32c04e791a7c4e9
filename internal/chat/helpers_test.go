package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

// fakeConn records frames the hub hands it.
type fakeConn struct {
	id     string
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, frames: make(chan []byte, 64)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.frames <- payload:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// next returns the next frame or fails the test.
func (c *fakeConn) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case raw := <-c.frames:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(waitFor):
		t.Fatalf("%s: no frame within %s", c.id, waitFor)
		return Envelope{}
	}
}

// nextEvent skips frames until one named name arrives.
func (c *fakeConn) nextEvent(t *testing.T, name string) Envelope {
	t.Helper()
	for {
		env := c.next(t)
		if env.Event == name {
			return env
		}
	}
}

func (c *fakeConn) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case raw := <-c.frames:
		t.Fatalf("%s: unexpected frame %s", c.id, raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func startHub(t *testing.T, relay Relay) *Hub {
	t.Helper()
	hub := NewHub(relay, NewMetrics(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

// attach registers c and opens it to live traffic with an empty history.
func attach(t *testing.T, hub *Hub, c *fakeConn) {
	t.Helper()
	hub.Register(c)
	hub.SendHistory(c.ID(), []Message{})
	c.nextEvent(t, EventChatHistory)
}

func newTestService(t *testing.T, store Store, opts Options) *Service {
	t.Helper()
	hub := startHub(t, nil)
	return NewService(hub, NewRegistry(), store, nil, opts)
}

// startSession opens a session on a fresh fake connection and drains its history frame.
func startSession(t *testing.T, svc *Service, id string) (*Session, *fakeConn, []Message) {
	t.Helper()
	conn := newFakeConn(id)
	s := svc.NewSession(conn)
	require.NoError(t, s.Start(context.Background()))
	env := conn.nextEvent(t, EventChatHistory)
	return s, conn, decode[[]Message](t, env)
}

// failingStore fails every operation.
type failingStore struct{}

var errBoom = errors.New("boom")

func (failingStore) Append(context.Context, Message) (Message, error) { return Message{}, errBoom }
func (failingStore) Recent(context.Context, int) ([]Message, error)  { return nil, errBoom }
func (failingStore) Page(context.Context, int, int) ([]Message, error) {
	return nil, errBoom
}
func (failingStore) Older(context.Context, Cursor, int) ([]Message, error) {
	return nil, errBoom
}
