package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultUsername = "User"
	DefaultColor    = "black"

	// Column widths of the messages table. Both stores apply them.
	MaxUsernameLen = 100
	MaxColorLen    = 32

	joinColor  = "green"
	leaveColor = "red"
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

// Message is a chat record. Once a Store has returned it, it is never mutated.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Color     string    `json:"color"`
	System    bool      `json:"system,omitempty"`
}

// NewMessage builds a user message with defaults applied. ID and Timestamp are
// left for the Store to assign.
func NewMessage(username, text, color string) Message {
	return Message{
		Username: displayName(username),
		Text:     text,
		Color:    truncate(orDefault(color, DefaultColor), MaxColorLen),
	}
}

func systemMessage(username, text, color string, now time.Time) Message {
	return Message{
		Username:  displayName(username),
		Text:      text,
		Timestamp: now,
		Color:     color,
		System:    true,
	}
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultUsername
	}
	return truncate(name, MaxUsernameLen)
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// ---------------------------------------------
// ⚡ Wire payloads (what the frontend SENDS to us)
// ---------------------------------------------

type JoinPayload struct {
	Name string `json:"name"`
}

// SendPayload is the client's message. Any timestamp the client adds is ignored.
type SendPayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Color    string `json:"color,omitempty"`
}

type TypingPayload struct {
	Username string `json:"username"`
}

// LoadOlderPayload asks for messages before Cursor. BeforeID, the id of the
// oldest message the client holds, keeps ties on Cursor from being skipped.
type LoadOlderPayload struct {
	Cursor   time.Time `json:"cursor"`
	BeforeID int64     `json:"beforeId,omitempty"`
}

// OlderBatch is the reply to loadOlderMessages. An empty Messages slice means
// there is no more history.
type OlderBatch struct {
	Messages []Message `json:"messages"`
	Error    string    `json:"error,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
