package chat

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Options tunes the live session behaviour. Zero values fall back to defaults;
// a zero RateBurst disables rate limiting.
type Options struct {
	HistoryLimit int
	OlderBatch   int
	RateBurst    int
	RateInterval time.Duration
}

// Service wires the shared pieces every Session needs.
type Service struct {
	hub      *Hub
	registry *Registry
	store    Store
	metrics  *Metrics
	cfg      Options
	now      func() time.Time
}

func NewService(hub *Hub, registry *Registry, store Store, metrics *Metrics, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.OlderBatch <= 0 {
		opts.OlderBatch = DefaultOlderBatch
	}
	if opts.RateInterval <= 0 {
		opts.RateInterval = time.Second
	}
	return &Service{
		hub:      hub,
		registry: registry,
		store:    store,
		metrics:  metrics,
		cfg:      opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Hub() *Hub { return s.hub }

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) Store() Store { return s.store }

// NewSession creates a session in the Connecting state for conn.
func (s *Service) NewSession(conn Conn) *Session {
	return &Session{
		svc:     s,
		conn:    conn,
		limiter: s.newLimiter(),
		state:   StateConnecting,
		name:    guestName(),
	}
}

func (s *Service) newLimiter() *rate.Limiter {
	if s.cfg.RateBurst <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	every := s.cfg.RateInterval / time.Duration(s.cfg.RateBurst)
	return rate.NewLimiter(rate.Every(every), s.cfg.RateBurst)
}

func newConnID() string {
	return uuid.NewString()
}

func guestName() string {
	return "Guest-" + uuid.NewString()[:6]
}
