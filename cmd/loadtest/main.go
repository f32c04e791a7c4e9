package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type options struct {
	url      string
	users    int
	messages int
	interval time.Duration
	linger   time.Duration
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Open many chat connections and flood the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "websocket endpoint")
	f.IntVar(&opts.users, "users", 100, "concurrent connections")
	f.IntVar(&opts.messages, "messages", 20, "messages per user")
	// Small sleep to stay under the default per-connection rate limit
	f.DurationVar(&opts.interval, "interval", 250*time.Millisecond, "delay between messages")
	f.DurationVar(&opts.linger, "linger", 2*time.Second, "time to keep reading after the last send")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts options) error {
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", opts.users, opts.messages)

	var (
		wg       sync.WaitGroup
		sent     atomic.Int64
		received atomic.Int64
		failed   atomic.Int64
	)
	start := time.Now()

	for i := 0; i < opts.users; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := spamChat(ctx, opts, fmt.Sprintf("load_%d", id), &sent, &received); err != nil {
				failed.Add(1)
				log.Printf("❌ load_%d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	log.Printf("✅ LOAD TEST COMPLETE in %s: sent=%d received=%d failed_users=%d",
		time.Since(start).Round(time.Millisecond), sent.Load(), received.Load(), failed.Load())
	return nil
}

func spamChat(ctx context.Context, opts options, user string, sent, received *atomic.Int64) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event == "message" {
				received.Add(1)
			}
		}
	}()

	if err := conn.WriteJSON(map[string]any{"event": "join", "data": map[string]string{"name": user}}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for i := 0; i < opts.messages; i++ {
		msg := map[string]any{
			"event": "message",
			"data": map[string]string{
				"username": user,
				"message":  fmt.Sprintf("LoadTest Msg %d from %s", i, user),
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		sent.Add(1)
		time.Sleep(opts.interval)
	}

	time.Sleep(opts.linger)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}
