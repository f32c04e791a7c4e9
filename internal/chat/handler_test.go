package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, store Store) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	hub := NewHub(nil, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	svc := NewService(hub, NewRegistry(), store, metrics, Options{})
	srv := httptest.NewServer(NewRouter(NewHandler(svc, nil), reg))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func getMessages(t *testing.T, srv *httptest.Server, query string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/messages/getMessages" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestGetMessages_Pagination(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 25; i++ {
		appendNames(t, store, string(rune('a'+i)))
	}
	srv := newTestServer(t, store)

	tests := []struct {
		name  string
		query string
		want  int
		first string
	}{
		{"defaults", "", 20, "f"},
		{"non-numeric falls back", "?page=abc&limit=xyz", 20, "f"},
		{"negative falls back", "?page=-2&limit=0", 20, "f"},
		{"second page", "?page=2&limit=20", 5, "a"},
		{"small page", "?page=1&limit=2", 2, "x"},
		{"out of range", "?page=50&limit=20", 0, ""},
		{"overflowing page", "?page=4611686018427387904&limit=4", 0, ""},
		{"huge page and limit", "?page=9223372036854775807&limit=9223372036854775807", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := getMessages(t, srv, tt.query)
			require.Equal(t, http.StatusOK, status)

			var msgs []Message
			require.NoError(t, json.Unmarshal(body, &msgs))
			require.NotNil(t, msgs, "empty page must be [] not null")
			assert.Len(t, msgs, tt.want)
			if tt.want > 0 {
				assert.Equal(t, tt.first, msgs[0].Username)
				for i := 1; i < len(msgs); i++ {
					assert.Less(t, msgs[i-1].ID, msgs[i].ID)
				}
			}
		})
	}
}

func TestGetMessages_StoreFailure(t *testing.T) {
	srv := newTestServer(t, failingStore{})

	status, body := getMessages(t, srv, "?page=1")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"Internal server error"}`, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, NewMemoryStore())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chat_connections")
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *wsClient) expect(event string) Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env))
		if env.Event == event {
			return env
		}
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	store := NewMemoryStore()
	appendNames(t, store, "old")
	srv := newTestServer(t, store)

	alice := dial(t, srv)
	history := decode[[]Message](t, alice.expect(EventChatHistory))
	assert.Equal(t, []string{"old"}, usernames(history))
	alice.emit(EventJoin, map[string]string{"name": "Alice"})
	assert.Equal(t, []string{"Alice"}, decode[[]string](t, alice.expect(EventUserList)))

	bob := dial(t, srv)
	bob.expect(EventChatHistory)
	bob.emit(EventJoin, "Bob")
	assert.Equal(t, []string{"Alice", "Bob"}, decode[[]string](t, alice.expect(EventUserList)))
	bob.expect(EventUserList)

	alice.emit(EventMessage, map[string]string{"username": "Alice", "message": "hi bob", "timestamp": "2000-01-01T00:00:00Z"})
	for _, c := range []*wsClient{alice, bob} {
		var got Message
		for {
			got = decode[Message](t, c.expect(EventMessage))
			if !got.System {
				break
			}
		}
		assert.Equal(t, "hi bob", got.Text)
		assert.Equal(t, int64(2), got.ID)
		assert.True(t, got.Timestamp.After(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	}

	_, body := getMessages(t, srv, "?page=1&limit=1")
	var page []Message
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page, 1)
	assert.Equal(t, "hi bob", page[0].Text)

	bob.emit(EventTyping, "Bob")
	assert.Equal(t, "Bob", decode[string](t, alice.expect(EventTyping)))

	require.NoError(t, bob.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	left := decode[Message](t, alice.expect(EventMessage))
	assert.Equal(t, "left the chat", left.Text)
	assert.Equal(t, []string{"Alice"}, decode[[]string](t, alice.expect(EventUserList)))
}

func TestWebSocket_LoadOlderAck(t *testing.T) {
	srv := newTestServer(t, NewMemoryStore())
	c := dial(t, srv)
	c.expect(EventChatHistory)

	require.NoError(t, c.conn.WriteJSON(map[string]any{
		"event": EventLoadOlder,
		"data":  map[string]any{"cursor": time.Now().UTC()},
		"ack":   42,
	}))
	env := c.expect(EventAck)
	assert.Equal(t, int64(42), env.Ack)
	assert.Empty(t, decode[OlderBatch](t, env).Messages)
}

func TestWebSocket_InvalidFrame(t *testing.T) {
	srv := newTestServer(t, NewMemoryStore())
	c := dial(t, srv)
	c.expect(EventChatHistory)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"deleteMessage"}`)))
	assert.Contains(t, decode[ErrorPayload](t, c.expect(EventError)).Error, "unknown event")

	// The connection stays usable.
	c.emit(EventJoin, "Eve")
	assert.Equal(t, []string{"Eve"}, decode[[]string](t, c.expect(EventUserList)))
}

func TestPageParams(t *testing.T) {
	tests := []struct {
		query       string
		page, limit int
	}{
		{"", 1, 20},
		{"page=3&limit=5", 3, 5},
		{"page=1.5&limit=", 1, 20},
		{"page=0&limit=-1", 1, 20},
		{"page=%20%207&limit=100000", 7, 100000},
	}
	for _, tt := range tests {
		q, err := url.ParseQuery(tt.query)
		require.NoError(t, err)
		page, limit := pageParams(q)
		assert.Equal(t, tt.page, page, tt.query)
		assert.Equal(t, tt.limit, limit, tt.query)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://CHAT.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
	assert.True(t, originChecker(nil)(req))
}
