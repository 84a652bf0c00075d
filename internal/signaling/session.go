package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

type wsSession struct {
	srv  *Server
	conn *websocket.Conn
	req  *http.Request
	log  *slog.Logger

	id      string
	limiter *ratelimit.MessageLimiter

	// out feeds the writer goroutine. Engine events are pushed without
	// blocking; see sessionMailbox.
	out    chan serverMessage
	done   chan struct{}
	kicked chan struct{}

	writeMu   sync.Mutex
	kickOnce  sync.Once
	closeOnce sync.Once
}

func newWSSession(srv *Server, conn *websocket.Conn, r *http.Request) *wsSession {
	return &wsSession{
		srv:     srv,
		conn:    conn,
		req:     r,
		log:     srv.logger().With("remote", r.RemoteAddr),
		limiter: ratelimit.NewMessageLimiter(srv.Clock, srv.maxMessagesPerSecond()),
		out:     make(chan serverMessage, srv.outboundQueue()),
		done:    make(chan struct{}),
		kicked:  make(chan struct{}),
	}
}

func (s *wsSession) run() {
	defer s.close()

	s.conn.SetReadLimit(s.srv.maxMessageBytes())

	identity, ok := s.authenticate()
	if !ok {
		return
	}

	s.id = s.srv.newConnectionID()
	s.log = s.log.With("conn_id", s.id, "user_id", identity.UserID)
	if _, err := s.srv.Engine.Register(s.id, identity.UserID, identity.DisplayName, sessionMailbox{s}); err != nil {
		code := matchmaking.ErrorCode(err)
		closeCode := websocket.CloseInternalServerErr
		if errors.Is(err, matchmaking.ErrTooManyConnections) {
			closeCode = websocket.CloseTryAgainLater
		}
		s.log.Warn("register failed", "err", err)
		_ = s.fail(code, err.Error(), closeCode, code)
		return
	}
	defer s.srv.Engine.Disconnect(s.id)
	s.srv.incMetric(metrics.AuthSucceeded)

	s.enqueue(serverMessage{
		Type:         messageTypeAuthenticated,
		ConnectionID: s.id,
		User:         &wireUser{ID: identity.UserID, DisplayName: identity.DisplayName},
	})
	go s.writeLoop()
	s.readLoop()
}

// authenticate resolves the connection's identity from query-string
// credentials or, failing that, from the first frame.
func (s *wsSession) authenticate() (auth.Identity, bool) {
	if creds, ok := auth.CredentialsFromQuery(s.req.URL.Query()); ok {
		return s.verify(creds)
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.authTimeout()))
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			s.srv.incMetric(metrics.AuthTimeout)
			s.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
		}
		return auth.Identity{}, false
	}
	if msgType != websocket.TextMessage {
		s.srv.incMetric(metrics.WSProtocolErrs)
		_ = s.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
		return auth.Identity{}, false
	}
	msg, err := parseClientMessage(data)
	if err != nil {
		s.srv.incMetric(metrics.WSProtocolErrs)
		_ = s.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
		return auth.Identity{}, false
	}
	if msg.Type != messageTypeAuth {
		s.reject("authentication required")
		return auth.Identity{}, false
	}
	return s.verify(auth.Credentials{Token: msg.Token, UserID: msg.UserID, DisplayName: msg.DisplayName})
}

func (s *wsSession) verify(creds auth.Credentials) (auth.Identity, bool) {
	identity, err := s.srv.Auth.Authenticate(creds)
	if err != nil {
		s.log.Info("authentication rejected", "err", err)
		s.reject(rejectReason(err))
		return auth.Identity{}, false
	}
	return identity, true
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return "missing credentials"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid credentials"
	default:
		return "authentication failed"
	}
}

func (s *wsSession) reject(reason string) {
	s.srv.incMetric(metrics.AuthFailed)
	_ = s.send(serverMessage{Type: messageTypeAuthRejected, Reason: reason})
	s.closeWith(websocket.ClosePolicyViolation, "unauthorized")
}

func (s *wsSession) readLoop() {
	idle := s.srv.idleTimeout()
	_ = s.conn.SetReadDeadline(time.Now().Add(idle))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				s.srv.incMetric(metrics.WSIdleTimeouts)
				s.closeWith(websocket.ClosePolicyViolation, "idle timeout")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(idle))

		// Rate limit after reading so the close frame is not lost to a TCP
		// reset caused by unread data.
		if !s.limiter.Allow() {
			s.srv.incMetric(metrics.WSRateLimited)
			_ = s.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.srv.incMetric(metrics.WSProtocolErrs)
			_ = s.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}
		msg, err := parseClientMessage(data)
		if err != nil {
			s.srv.incMetric(metrics.WSProtocolErrs)
			_ = s.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}
		if msg.Type == messageTypeClose {
			s.closeWith(websocket.CloseNormalClosure, "")
			return
		}

		if err := s.dispatch(msg); err != nil {
			code := matchmaking.ErrorCode(err)
			s.log.Debug("request rejected", "type", string(msg.Type), "code", code, "err", err)
			if !s.enqueue(errorMessage(code, err.Error())) {
				s.log.Warn("error frame dropped", "code", code)
			}
		}
	}
}

func (s *wsSession) dispatch(msg clientMessage) error {
	e := s.srv.Engine
	switch msg.Type {
	case messageTypeAuth:
		// Clients that authenticated via the query string may still send auth.
		return nil
	case messageTypeSeek:
		return e.Seek(s.id)
	case messageTypeCancelSeek:
		return e.Cancel(s.id)
	case messageTypeNext:
		return e.Next(s.id)
	case messageTypeOffer, messageTypeAnswer, messageTypeCandidate:
		return e.Relay(s.id, msg.RoomID, matchmaking.EventType(msg.Type), msg.Payload)
	default:
		return fmt.Errorf("%w: unexpected %q", matchmaking.ErrInvalidTransition, msg.Type)
	}
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(s.srv.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.kicked:
			_ = s.fail("slow_consumer", "outbound queue full", websocket.CloseTryAgainLater, "slow consumer")
			_ = s.conn.Close()
			return
		case msg := <-s.out:
			if err := s.send(msg); err != nil {
				s.log.Debug("websocket write failed", "err", err)
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.log.Debug("websocket ping failed", "err", err)
				_ = s.conn.Close()
				return
			}
		}
	}
}

// enqueue hands msg to the writer without blocking.
func (s *wsSession) enqueue(msg serverMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *wsSession) kick() {
	s.kickOnce.Do(func() { close(s.kicked) })
}

func (s *wsSession) send(msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSession) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *wsSession) fail(code, message string, closeCode int, closeReason string) error {
	err := s.send(errorMessage(code, message))
	s.closeWith(closeCode, closeReason)
	return err
}

func (s *wsSession) closeWith(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (s *wsSession) goAway() {
	s.closeWith(websocket.CloseGoingAway, "server shutting down")
	_ = s.conn.Close()
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// sessionMailbox adapts a session to the engine's Mailbox. A lifecycle event
// that does not fit kicks the session; relayed signals are simply dropped.
type sessionMailbox struct {
	s *wsSession
}

func (m sessionMailbox) Deliver(ev matchmaking.Event) bool {
	if m.s.enqueue(serverMessageFromEvent(ev)) {
		return true
	}
	if !ev.Type.IsSignal() {
		m.s.kick()
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
