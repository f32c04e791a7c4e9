package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	DefaultHistoryLimit = 50
	DefaultPage         = 1
	DefaultPageSize     = 20
	DefaultOlderBatch   = 20
)

var ErrStore = errors.New("message store failure")

// Cursor is a position in history. ID breaks ties between messages sharing
// Timestamp; zero compares on Timestamp alone.
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// After reports whether msg lies at or after the cursor.
func (c Cursor) After(msg Message) bool {
	if msg.Timestamp.Before(c.Timestamp) {
		return false
	}
	return c.ID == 0 || !msg.Timestamp.Equal(c.Timestamp) || msg.ID >= c.ID
}

// Store is an append-only ordered collection of messages. Every read returns
// messages oldest-first. An empty result is never an error.
type Store interface {
	Append(ctx context.Context, msg Message) (Message, error)
	Recent(ctx context.Context, limit int) ([]Message, error)
	Page(ctx context.Context, page, size int) ([]Message, error)
	Older(ctx context.Context, cursor Cursor, limit int) ([]Message, error)
}

// MemoryStore keeps messages in process. Used for tests and single-node dev runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	nextID   int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

func (s *MemoryStore) Append(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	// Timestamps never go backwards even if the wall clock does.
	if n := len(s.messages); n > 0 && ts.Before(s.messages[n-1].Timestamp) {
		ts = s.messages[n-1].Timestamp
	}

	msg.ID = s.nextID
	msg.Timestamp = ts
	s.nextID++
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Message, error) {
	return s.Page(ctx, 1, limit)
}

func (s *MemoryStore) Page(ctx context.Context, page, size int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 1 || size < 1 {
		return []Message{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Compare in whole pages so (page-1)*size cannot overflow.
	total := len(s.messages)
	if total == 0 || page-1 > (total-1)/size {
		return []Message{}, nil
	}
	// messages is ascending by id, so "skip from the newest end" is slicing
	// from the back.
	end := total - (page-1)*size
	start := max(end-size, 0)

	out := make([]Message, end-start)
	copy(out, s.messages[start:end])
	return out, nil
}

func (s *MemoryStore) Older(ctx context.Context, cursor Cursor, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return []Message{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	end := 0
	for end < len(s.messages) && !cursor.After(s.messages[end]) {
		end++
	}
	start := max(end-limit, 0)

	out := make([]Message, end-start)
	copy(out, s.messages[start:end])
	return out, nil
}
