package chat

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
)

// Repository is the PostgreSQL Store. The BIGSERIAL id is the ordering key;
// created_at is set by the database so client clocks never leak in.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectMessage = `SELECT id, username, body, color, created_at FROM messages`

func (r *Repository) Append(ctx context.Context, msg Message) (Message, error) {
	query := `
		INSERT INTO messages (username, body, color, created_at)
		VALUES ($1, $2, $3, clock_timestamp())
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, msg.Username, msg.Text, msg.Color).Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("%w: insert message: %w", ErrStore, err)
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

func (r *Repository) Recent(ctx context.Context, limit int) ([]Message, error) {
	return r.Page(ctx, 1, limit)
}

func (r *Repository) Page(ctx context.Context, page, size int) ([]Message, error) {
	if page < 1 || size < 1 {
		return []Message{}, nil
	}
	// An offset past MaxInt64 is past every row.
	if int64(page-1) > math.MaxInt64/int64(size) {
		return []Message{}, nil
	}
	query := selectMessage + ` ORDER BY id DESC OFFSET $1 LIMIT $2`
	return r.query(ctx, query, int64(page-1)*int64(size), size)
}

func (r *Repository) Older(ctx context.Context, cursor Cursor, limit int) ([]Message, error) {
	if limit < 1 {
		return []Message{}, nil
	}
	if cursor.ID == 0 {
		query := selectMessage + ` WHERE created_at < $1 ORDER BY id DESC LIMIT $2`
		return r.query(ctx, query, cursor.Timestamp, limit)
	}
	query := selectMessage + ` WHERE (created_at, id) < ($1, $2) ORDER BY id DESC LIMIT $3`
	return r.query(ctx, query, cursor.Timestamp, cursor.ID, limit)
}

// query runs a newest-first select and returns the rows oldest-first.
func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %w", ErrStore, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Username, &msg.Text, &msg.Color, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", ErrStore, err)
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate messages: %w", ErrStore, err)
	}

	slices.Reverse(messages)
	return messages, nil
}
