package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/ratelimit"
)

// Server upgrades /signal requests and runs one session per connection.
//
// Zero values for the tuning fields fall back to the config package defaults.
type Server struct {
	Engine  *matchmaking.Engine
	Auth    auth.Authenticator
	Origins origin.Policy
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	AuthTimeout          time.Duration
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	OutboundQueue        int

	// Clock drives the per-connection rate limiter.
	Clock ratelimit.Clock
	// NewConnectionID defaults to a random UUID.
	NewConnectionID func() string

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
	closed   bool
}

// NewServer wires a Server from configuration.
func NewServer(cfg config.Config, engine *matchmaking.Engine, authn auth.Authenticator, origins origin.Policy, m *metrics.Metrics, log *slog.Logger) *Server {
	return &Server{
		Engine:               engine,
		Auth:                 authn,
		Origins:              origins,
		Metrics:              m,
		Logger:               log,
		AuthTimeout:          cfg.SignalingAuthTimeout,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		OutboundQueue:        cfg.SignalingOutboundQueue,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

// ActiveSessions returns the number of open WebSocket sessions, authenticated
// or not.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close asks every open session to go away and stops accepting new ones.
// Hijacked connections are not covered by http.Server.Shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*wsSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.goAway()
	}
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil || s.Auth == nil {
		http.Error(w, "signaling not configured", http.StatusInternalServerError)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Debug("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	sess := newWSSession(s, conn, r)
	if !s.track(sess) {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	defer s.untrack(sess)
	sess.run()
}

// checkOrigin allows requests without an Origin header; those are not from a
// browser and cannot be driven by a hostile page.
func (s *Server) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	_, ok := s.Origins.Check(header, r.Host)
	return ok
}

func (s *Server) track(sess *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.sessions == nil {
		s.sessions = make(map[*wsSession]struct{})
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *wsSession) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) incMetric(name string) {
	s.Metrics.Inc(name)
}

func (s *Server) newConnectionID() string {
	if s.NewConnectionID != nil {
		return s.NewConnectionID()
	}
	return uuid.NewString()
}

func (s *Server) authTimeout() time.Duration {
	if s.AuthTimeout > 0 {
		return s.AuthTimeout
	}
	return config.DefaultSignalingAuthTimeout
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout > 0 {
		return s.IdleTimeout
	}
	return config.DefaultSignalingWSIdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.PingInterval > 0 {
		return s.PingInterval
	}
	return config.DefaultSignalingWSPingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.MaxMessageBytes > 0 {
		return s.MaxMessageBytes
	}
	return config.DefaultMaxSignalingMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.MaxMessagesPerSecond > 0 {
		return s.MaxMessagesPerSecond
	}
	return config.DefaultMaxSignalingMessagesPerSecond
}

func (s *Server) outboundQueue() int {
	if s.OutboundQueue > 0 {
		return s.OutboundQueue
	}
	return config.DefaultSignalingOutboundQueue
}
