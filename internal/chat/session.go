package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrClosed      = errors.New("session closed")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrEmptyText   = errors.New("message is empty")
)

const storeTimeout = 5 * time.Second

type State int

const (
	StateConnecting State = iota
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is the per-connection state machine. Handle is called from a single
// goroutine per connection; the mutex only guards against Close racing it.
type Session struct {
	svc     *Service
	conn    Conn
	limiter *rate.Limiter

	mu     sync.Mutex
	state  State
	name   string
	joined bool
}

func (s *Session) ID() string { return s.conn.ID() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name is the current display name: the guest name until the first join.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Start attaches the connection and sends it the recent history privately.
// A history read failure is logged and the client gets an empty history.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("start in state %s", s.state)
	}
	s.state = StateActive
	s.mu.Unlock()

	s.svc.hub.Register(s.conn)

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	history, err := s.svc.store.Recent(sctx, s.svc.cfg.HistoryLimit)
	if err != nil {
		s.svc.metrics.storeError("recent")
		log.Printf("❌ History load failed for %s: %v", s.ID(), err)
		history = []Message{}
	}
	s.svc.hub.SendHistory(s.ID(), history)
	return nil
}

// Handle dispatches one inbound event.
func (s *Session) Handle(ctx context.Context, in Inbound) error {
	if s.State() != StateActive {
		return ErrClosed
	}

	switch ev := in.(type) {
	case Join:
		s.svc.metrics.event(EventJoin)
		s.join(ev.Name)
		return nil
	case Send:
		s.svc.metrics.event(EventMessage)
		return s.send(ctx, ev.SendPayload)
	case Typing:
		s.svc.metrics.event(EventTyping)
		name := ev.Username
		if strings.TrimSpace(name) == "" {
			name = s.Name()
		}
		s.svc.hub.EmitOthers(s.ID(), Event{Name: EventTyping, Data: displayName(name)})
		return nil
	case StopTyping:
		s.svc.metrics.event(EventStopTyping)
		s.svc.hub.EmitOthers(s.ID(), Event{Name: EventStopTyping})
		return nil
	case LoadOlder:
		s.svc.metrics.event(EventLoadOlder)
		s.loadOlder(ctx, ev)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, in)
	}
}

// join announces only the first join of a connection; later ones are renames.
func (s *Session) join(name string) {
	name = displayName(name)

	s.mu.Lock()
	first := !s.joined
	s.joined = true
	s.name = name
	s.mu.Unlock()

	s.svc.registry.SetName(s.ID(), name)
	if first {
		log.Printf("👋 %s joined as %q", s.ID(), name)
		s.svc.hub.EmitAll(Event{
			Name: EventMessage,
			Data: systemMessage(name, "joined the chat", joinColor, s.svc.now()),
		})
	}
	s.svc.hub.EmitAll(Event{Name: EventUserList, Data: s.svc.registry.Names()})
}

// send persists first and broadcasts the stored copy. The sender hears about
// failures privately; nothing is broadcast.
func (s *Session) send(ctx context.Context, p SendPayload) error {
	if strings.TrimSpace(p.Message) == "" {
		s.reject(ErrEmptyText)
		return ErrEmptyText
	}
	if !s.limiter.Allow() {
		log.Printf("⚠️ Rate limit exceeded for %s; discarding message", s.ID())
		s.reject(ErrRateLimited)
		return ErrRateLimited
	}

	username := p.Username
	if strings.TrimSpace(username) == "" {
		s.mu.Lock()
		if s.joined {
			username = s.name
		}
		s.mu.Unlock()
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	stored, err := s.svc.store.Append(sctx, NewMessage(username, p.Message, p.Color))
	if err != nil {
		s.svc.metrics.storeError("append")
		log.Printf("❌ DB Error for %s: %v", s.ID(), err)
		s.reject(errors.New("message could not be sent"))
		return fmt.Errorf("append: %w", err)
	}
	s.svc.metrics.stored()

	s.svc.hub.EmitAll(Event{Name: EventMessage, Data: stored})
	return nil
}

func (s *Session) loadOlder(ctx context.Context, ev LoadOlder) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	batch := OlderBatch{Messages: []Message{}}
	msgs, err := s.svc.store.Older(sctx, Cursor{Timestamp: ev.Cursor, ID: ev.BeforeID}, s.svc.cfg.OlderBatch)
	if err != nil {
		s.svc.metrics.storeError("older")
		log.Printf("❌ Older history failed for %s: %v", s.ID(), err)
		batch.Error = "Internal server error"
	} else {
		batch.Messages = msgs
	}
	s.svc.hub.SendTo(s.ID(), Event{Name: EventAck, Ack: ev.Ack, Data: batch})
}

func (s *Session) reject(err error) {
	s.svc.hub.SendTo(s.ID(), Event{Name: EventError, Data: ErrorPayload{Error: err.Error()}})
}

// Close moves the session to Disconnected and announces the departure. Only
// the first call has any effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	wasActive := s.state == StateActive
	s.state = StateDisconnected
	name := s.name
	s.mu.Unlock()

	s.svc.registry.Remove(s.ID())
	s.svc.hub.Unregister(s.ID())
	if !wasActive {
		return
	}

	log.Printf("❌ %s (%s) disconnected", name, s.ID())
	s.svc.hub.EmitAll(Event{
		Name: EventMessage,
		Data: systemMessage(name, "left the chat", leaveColor, s.svc.now()),
	})
	s.svc.hub.EmitAll(Event{Name: EventUserList, Data: s.svc.registry.Names()})
}
