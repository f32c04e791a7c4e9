package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RelayChannel is the Redis channel every instance listens to.
const RelayChannel = "chat:events"

// RelayEnvelope wraps an already-encoded frame for other instances.
type RelayEnvelope struct {
	Origin    string          `json:"origin"`
	Exclude   string          `json:"exclude,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	Transient bool            `json:"transient,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Relay carries hub traffic between server instances.
type Relay interface {
	Publish(ctx context.Context, env RelayEnvelope) error
	Subscribe(ctx context.Context, fn func(RelayEnvelope)) error
}

type RedisRelay struct {
	client  *redis.Client
	channel string
}

func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client, channel: RelayChannel}
}

func (r *RedisRelay) Publish(ctx context.Context, env RelayEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe blocks, calling fn for each envelope, until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context, fn func(RelayEnvelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env RelayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("❌ Bad relay payload: %v", err)
				continue
			}
			fn(env)
		}
	}
}

func newInstanceID() string {
	return uuid.NewString()
}
