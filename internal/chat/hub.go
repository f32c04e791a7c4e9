package chat

import (
	"context"
	"log"
	"slices"
	"sync/atomic"
)

// maxPending bounds the frames held for a connection that has not yet been
// sent its history. Only chat messages accumulate there (see frameKind), so
// this is room for that many messages arriving during one history read of up
// to storeTimeout.
const maxPending = 4 * sendBuffer

// frameKind says how a frame is treated while its recipient waits for history.
type frameKind int

const (
	frameLive      frameKind = iota // held, then de-duplicated against history
	frameTransient                  // typing indicators: not held
	frameSnapshot                   // user lists: only the latest is held
)

func kindOf(name string) frameKind {
	switch name {
	case EventTyping, EventStopTyping:
		return frameTransient
	case EventUserList:
		return frameSnapshot
	}
	return frameLive
}

// Conn is a live connection as seen by the Hub.
type Conn interface {
	ID() string
	// Enqueue hands a frame to the connection without blocking. It returns
	// false if the connection cannot take it (buffer full or closed).
	Enqueue(payload []byte) bool
	// Close stops delivery. Safe to call more than once.
	Close()
}

// delivery is one fan-out request. target set: only that connection.
// exclude set: everyone but that connection. Neither: everyone.
// msgID is the stored id for chat messages, zero otherwise.
type delivery struct {
	target  string
	exclude string
	payload []byte
	msgID   int64
	kind    frameKind
	// history, when non-nil, marks the target's chatHistory frame and holds
	// the ids it contains.
	history map[int64]struct{}
}

// member is a registered connection. Until its history frame goes out, live
// frames are parked in pending so they can be de-duplicated against it.
type member struct {
	conn    Conn
	waiting bool
	pending []delivery
}

// Hub acts as the central router. Run is the only goroutine that touches the
// connection set; everything else talks to it through channels.
type Hub struct {
	members    map[string]*member
	register   chan Conn
	unregister chan string
	broadcast  chan delivery
	done       chan struct{}
	count      atomic.Int64

	relay      Relay
	instanceID string
	metrics    *Metrics
}

func NewHub(relay Relay, metrics *Metrics) *Hub {
	return &Hub{
		members:    make(map[string]*member),
		register:   make(chan Conn),
		unregister: make(chan string),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
		relay:      relay,
		instanceID: newInstanceID(),
		metrics:    metrics,
	}
}

// Run is the loop that owns the connection set. It returns when ctx is done,
// closing every connection still attached.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, m := range h.members {
				m.conn.Close()
				delete(h.members, id)
			}
			h.setCount()
			log.Println("🛑 Hub stopped")
			return

		case c := <-h.register:
			h.members[c.ID()] = &member{conn: c, waiting: true}
			h.setCount()

		case id := <-h.unregister:
			// Always check they exist to avoid double close
			if m, ok := h.members[id]; ok {
				h.drop(m)
			}

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

func (h *Hub) deliver(d delivery) {
	if d.target != "" {
		if m, ok := h.members[d.target]; ok {
			h.route(m, d)
		}
		return
	}
	for id, m := range h.members {
		if id == d.exclude {
			continue
		}
		h.route(m, d)
	}
}

func (h *Hub) route(m *member, d delivery) {
	if d.history != nil {
		h.release(m, d)
		return
	}
	if m.waiting {
		switch d.kind {
		case frameTransient:
			return
		case frameSnapshot:
			m.pending = slices.DeleteFunc(m.pending, func(p delivery) bool { return p.kind == frameSnapshot })
		}
		if len(m.pending) >= maxPending {
			h.metrics.dropped()
			log.Printf("⚠️ Dropping connection %s: too many frames before history", m.conn.ID())
			h.drop(m)
			return
		}
		m.pending = append(m.pending, d)
		return
	}
	h.send(m, d.payload)
}

// release sends the history frame, then everything parked behind it except
// messages the history already contains.
func (h *Hub) release(m *member, d delivery) {
	if !m.waiting {
		return
	}
	m.waiting = false
	if !h.send(m, d.payload) {
		return
	}
	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		if _, dup := d.history[p.msgID]; dup && p.msgID != 0 {
			continue
		}
		if !h.send(m, p.payload) {
			return
		}
	}
}

// send is best-effort per recipient: a connection that cannot keep up is
// dropped without holding up the others.
func (h *Hub) send(m *member, payload []byte) bool {
	if m.conn.Enqueue(payload) {
		h.metrics.delivered()
		return true
	}
	h.metrics.dropped()
	log.Printf("⚠️ Dropping slow connection %s", m.conn.ID())
	h.drop(m)
	return false
}

func (h *Hub) drop(m *member) {
	delete(h.members, m.conn.ID())
	m.pending = nil
	m.conn.Close()
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.members)))
	h.metrics.setConnections(len(h.members))
}

// Register attaches c. Nothing reaches c until SendHistory is called for it.
// If the hub has stopped, c is closed instead.
func (h *Hub) Register(c Conn) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// SendHistory delivers the chatHistory frame privately and opens the
// connection to live traffic. Live messages already in history are skipped.
func (h *Hub) SendHistory(id string, history []Message) {
	ids := make(map[int64]struct{}, len(history))
	for _, msg := range history {
		ids[msg.ID] = struct{}{}
	}
	h.queue(delivery{target: id, history: ids}, Event{Name: EventChatHistory, Data: history})
}

// SendTo delivers ev to one connection only.
func (h *Hub) SendTo(id string, ev Event) {
	h.queue(delivery{target: id}, ev)
}

// EmitAll delivers ev to every connection, including the sender.
func (h *Hub) EmitAll(ev Event) {
	d := h.queue(delivery{msgID: messageID(ev)}, ev)
	h.publish(ev, d)
}

// EmitOthers delivers ev to every connection except senderID.
func (h *Hub) EmitOthers(senderID string, ev Event) {
	d := h.queue(delivery{exclude: senderID, msgID: messageID(ev)}, ev)
	h.publish(ev, d)
}

// Count is the number of attached connections as of the last change.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

func (h *Hub) queue(d delivery, ev Event) delivery {
	payload, err := ev.Encode()
	if err != nil {
		log.Printf("❌ Encode error: %v", err)
		return delivery{}
	}
	d.payload = payload
	d.kind = kindOf(ev.Name)
	h.enqueue(d)
	return d
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.broadcast <- d:
	case <-h.done:
	}
}

// publish forwards chat traffic to other instances. Presence, including the
// joined/left announcements, is per instance and never leaves this process.
func (h *Hub) publish(ev Event, d delivery) {
	if h.relay == nil || d.payload == nil || !relayed(ev) {
		return
	}
	err := h.relay.Publish(context.Background(), RelayEnvelope{
		Origin:    h.instanceID,
		Exclude:   d.exclude,
		MessageID: d.msgID,
		Transient: d.kind == frameTransient,
		Payload:   d.payload,
	})
	if err != nil {
		log.Printf("❌ Relay publish error: %v", err)
	}
}

// RunRelay feeds events published by other instances into the local fan-out.
// It blocks until ctx is done or the subscription fails.
func (h *Hub) RunRelay(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Subscribe(ctx, func(env RelayEnvelope) {
		if env.Origin == h.instanceID {
			return
		}
		d := delivery{exclude: env.Exclude, msgID: env.MessageID, payload: env.Payload}
		if env.Transient {
			d.kind = frameTransient
		}
		h.enqueue(d)
	})
}

func messageID(ev Event) int64 {
	if msg, ok := ev.Data.(Message); ok {
		return msg.ID
	}
	return 0
}

func relayed(ev Event) bool {
	switch ev.Name {
	case EventMessage:
		msg, ok := ev.Data.(Message)
		return !ok || !msg.System
	case EventTyping, EventStopTyping:
		return true
	}
	return false
}
