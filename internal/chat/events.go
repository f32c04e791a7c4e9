package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried in the envelope.
const (
	EventJoin        = "join"
	EventMessage     = "message"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventLoadOlder   = "loadOlderMessages"
	EventChatHistory = "chatHistory"
	EventUserList    = "userList"
	EventAck         = "ack"
	EventError       = "error"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   int64           `json:"ack,omitempty"`
}

// Event is an outbound event before encoding.
type Event struct {
	Name string
	Data any
	Ack  int64
}

func (e Event) Encode() ([]byte, error) {
	env := Envelope{Event: e.Name, Ack: e.Ack}
	if e.Data != nil {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.Name, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Inbound is one of the events a client may send.
type Inbound interface {
	inbound()
}

type Join struct{ Name string }

type Send struct{ SendPayload }

type Typing struct{ Username string }

type StopTyping struct{}

type LoadOlder struct {
	LoadOlderPayload
	Ack int64
}

func (Join) inbound()       {}
func (Send) inbound()       {}
func (Typing) inbound()     {}
func (StopTyping) inbound() {}
func (LoadOlder) inbound()  {}

// DecodeInbound parses a raw frame into a typed inbound event. join and typing
// accept either an object or a bare JSON string as their data.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if err := decodeNameish(env.Data, &p.Name, &p); err != nil {
			return nil, err
		}
		return Join{Name: p.Name}, nil
	case EventMessage:
		var p SendPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		return Send{p}, nil
	case EventTyping:
		var p TypingPayload
		if err := decodeNameish(env.Data, &p.Username, &p); err != nil {
			return nil, err
		}
		return Typing{Username: p.Username}, nil
	case EventStopTyping:
		return StopTyping{}, nil
	case EventLoadOlder:
		var p LoadOlderPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		return LoadOlder{LoadOlderPayload: p, Ack: env.Ack}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func decodeNameish(data json.RawMessage, name *string, obj any) error {
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, name); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
		return nil
	}
	return decodeData(data, obj)
}
