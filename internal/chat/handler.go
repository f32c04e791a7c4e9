package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

type Handler struct {
	svc      *Service
	upgrader websocket.Upgrader
}

// NewHandler builds the HTTP surface. An empty allowedOrigins list, or one
// containing "*", accepts any origin.
func NewHandler(svc *Service, allowedOrigins []string) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeWs upgrades the request, sends the history and starts the pumps.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := NewClient(conn)
	session := h.svc.NewSession(client)

	// The request context ends when this handler returns; the session outlives it.
	ctx := context.WithoutCancel(r.Context())

	go client.writePump()
	if err := session.Start(ctx); err != nil {
		log.Printf("❌ Session start failed for %s: %v", client.ID(), err)
		conn.Close()
		return
	}
	log.Printf("✅ %s connected from %s", client.ID(), r.RemoteAddr)
	go client.readPump(ctx, session)
}

// GetMessages serves one offset page of history, oldest-first within the page.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r.URL.Query())

	msgs, err := h.svc.store.Page(r.Context(), page, limit)
	if err != nil {
		h.svc.metrics.storeError("page")
		log.Printf("❌ Error fetching messages: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Error: "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// pageParams never fails: missing, non-numeric or non-positive values fall
// back to the defaults.
func pageParams(q url.Values) (page, limit int) {
	return positiveInt(q.Get("page"), DefaultPage), positiveInt(q.Get("limit"), DefaultPageSize)
}

func positiveInt(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ Encode response: %v", err)
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin header.
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}
