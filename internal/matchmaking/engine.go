package matchmaking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
	// NewRoomID defaults to "room_" followed by a random UUID.
	NewRoomID func() string

	// MaxConnections caps concurrently registered connections. Zero means no
	// cap.
	MaxConnections int
}

// Stats is a point-in-time view of the engine's tables.
type Stats struct {
	Connections  int `json:"connections"`
	Idle         int `json:"idle"`
	Waiting      int `json:"waiting"`
	InCall       int `json:"inCall"`
	Rooms        int `json:"rooms"`
	HistoryPairs int `json:"historyPairs"`
}

// Engine owns the connection registry, waiting queue, room table and pairing
// history. Every exported method is safe for concurrent use.
type Engine struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newRoomID func() string
	maxConns  int

	mu      sync.Mutex
	conns   *registry
	queue   *waitQueue
	rooms   map[string]*Room
	history *pairingHistory
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		log:       opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		newRoomID: opts.NewRoomID,
		maxConns:  opts.MaxConnections,
		conns:     newRegistry(),
		queue:     newWaitQueue(),
		rooms:     make(map[string]*Room),
		history:   newPairingHistory(),
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newRoomID == nil {
		e.newRoomID = func() string { return "room_" + uuid.NewString() }
	}
	if e.metrics != nil {
		e.metrics.RegisterGauge("connections", func() float64 { return float64(e.Stats().Connections) })
		e.metrics.RegisterGauge("waiting", func() float64 { return float64(e.Stats().Waiting) })
		e.metrics.RegisterGauge("rooms", func() float64 { return float64(e.Stats().Rooms) })
	}
	return e
}

// Register records a newly authenticated connection as idle. mb receives every
// event addressed to the connection until Disconnect.
func (e *Engine) Register(id, userID, displayName string, mb Mailbox) (Connection, error) {
	if mb == nil {
		return Connection{}, fmt.Errorf("%w: nil mailbox", ErrInvalidIdentity)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxConns > 0 && e.conns.len() >= e.maxConns {
		e.metrics.Inc(metrics.ConnectionsRejected)
		return Connection{}, fmt.Errorf("register %s: %w (max %d)", id, ErrTooManyConnections, e.maxConns)
	}
	conn, err := e.conns.register(id, userID, displayName, mb, e.now())
	if err != nil {
		e.metrics.Inc(metrics.ConnectionsRejected)
		return Connection{}, err
	}
	e.metrics.Inc(metrics.ConnectionsRegistered)
	e.log.Info("connection registered", "conn_id", id, "user_id", userID)
	return conn, nil
}

func (e *Engine) Connection(id string) (Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns.get(id)
}

func (e *Engine) Room(id string) (Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[id]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

// Waiting returns the queued connection ids, oldest first.
func (e *Engine) Waiting() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.snapshot()
}

// HasPaired reports whether the two users have ever shared a room.
func (e *Engine) HasPaired(userA, userB string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.has(userA, userB)
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Connections:  e.conns.len(),
		Waiting:      e.queue.len(),
		Rooms:        len(e.rooms),
		HistoryPairs: e.history.len(),
	}
	for _, entry := range e.conns.conns {
		switch entry.conn.Status {
		case StatusIdle:
			s.Idle++
		case StatusInCall:
			s.InCall++
		}
	}
	return s
}

// Seek places an idle connection in the waiting queue and pairs the queue
// head if possible.
func (e *Engine) Seek(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, err := e.conns.get(id)
	if err != nil {
		return err
	}
	switch conn.Status {
	case StatusWaiting:
		return fmt.Errorf("%w: %s", ErrAlreadyWaiting, id)
	case StatusInCall:
		return fmt.Errorf("%w: %s is in room %s", ErrInvalidTransition, id, conn.RoomID)
	}
	if err := e.queue.enqueue(id); err != nil {
		return err
	}
	if err := e.conns.setStatus(id, StatusWaiting, ""); err != nil {
		e.queue.cancel(id)
		return err
	}
	e.metrics.Inc(metrics.SeekRequests)
	e.log.Debug("connection waiting", "conn_id", id, "queue_len", e.queue.len())

	for {
		if _, ok := e.tryPairLocked(); !ok {
			break
		}
	}
	return nil
}

// TryPair pairs the two oldest waiting connections, if there are at least two.
func (e *Engine) TryPair() (Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.tryPairLocked()
	if !ok {
		return Room{}, false
	}
	return *r, true
}

func (e *Engine) tryPairLocked() (*Room, bool) {
	a, b, ok := e.queue.popPair()
	if !ok {
		return nil, false
	}
	connA, _ := e.conns.get(a)
	connB, _ := e.conns.get(b)

	id := e.newRoomID()
	for _, taken := e.rooms[id]; taken; _, taken = e.rooms[id] {
		id = e.newRoomID()
	}
	room := &Room{
		ID:        id,
		Members:   [2]string{a, b},
		CallerID:  a,
		CreatedAt: e.now(),
	}
	e.rooms[id] = room
	// Both ids were queued, so both are registered and waiting.
	_ = e.conns.setStatus(a, StatusInCall, id)
	_ = e.conns.setStatus(b, StatusInCall, id)
	e.history.record(connA.UserID, connB.UserID)
	e.metrics.Inc(metrics.RoomsCreated)
	e.log.Info("room created", "room_id", id, "caller", a, "callee", b)

	peers := [2]Peer{peerOf(connA), peerOf(connB)}
	e.deliverControl(a, Event{Type: EventMatched, RoomID: id, Members: peers, Peer: peers[1], IsCaller: true})
	e.deliverControl(b, Event{Type: EventMatched, RoomID: id, Members: peers, Peer: peers[0], IsCaller: false})
	return room, true
}

// Cancel withdraws a waiting connection from the queue. It is a no-op for
// connections that are not waiting.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, err := e.conns.get(id)
	if err != nil {
		return err
	}
	if conn.Status != StatusWaiting {
		return nil
	}
	e.queue.cancel(id)
	_ = e.conns.setStatus(id, StatusIdle, "")
	e.metrics.Inc(metrics.SeekCancelled)
	e.log.Debug("seek cancelled", "conn_id", id)
	return nil
}

// Next leaves the current room, notifying the partner. Both members become
// idle. It is a no-op for connections that are not in a call.
func (e *Engine) Next(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, err := e.conns.get(id)
	if err != nil {
		return err
	}
	if conn.Status != StatusInCall {
		return nil
	}
	e.teardownLocked(conn, "next")
	return nil
}

// Disconnect removes a connection from every table, tearing down its room if
// it has one. Calling it for an unknown or already removed id is a no-op.
func (e *Engine) Disconnect(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, err := e.conns.get(id)
	if err != nil {
		return
	}
	switch conn.Status {
	case StatusWaiting:
		e.queue.cancel(id)
	case StatusInCall:
		e.teardownLocked(conn, "disconnect")
	}
	_, _ = e.conns.remove(id)
	e.metrics.Inc(metrics.ConnectionsRemoved)
	e.log.Info("connection removed", "conn_id", id, "user_id", conn.UserID)
}

func (e *Engine) teardownLocked(leaver Connection, reason string) {
	room, ok := e.rooms[leaver.RoomID]
	if !ok {
		_ = e.conns.setStatus(leaver.ID, StatusIdle, "")
		return
	}
	delete(e.rooms, room.ID)
	_ = e.conns.setStatus(leaver.ID, StatusIdle, "")

	partner, ok := room.Partner(leaver.ID)
	if ok {
		if err := e.conns.setStatus(partner, StatusIdle, ""); err == nil {
			e.deliverControl(partner, Event{Type: EventPartnerLeft, RoomID: room.ID})
			e.metrics.Inc(metrics.PartnerLeft)
		}
	}
	e.metrics.Inc(metrics.RoomsTornDown)
	e.log.Info("room torn down", "room_id", room.ID, "conn_id", leaver.ID, "partner", partner, "reason", reason)
}

// Relay forwards a handshake message from a room member to the other member.
// Delivery is best-effort: if the partner cannot accept it the message is
// dropped and Relay still returns nil.
func (e *Engine) Relay(from, roomID string, kind EventType, payload json.RawMessage) error {
	if !kind.IsSignal() {
		return fmt.Errorf("%w: %q is not a relayable message", ErrInvalidTransition, kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.conns.get(from); err != nil {
		return err
	}
	room, ok := e.rooms[roomID]
	if !ok || !room.has(from) {
		e.metrics.Inc(metrics.SignalsDenied)
		return fmt.Errorf("%w: %s not in %s", ErrNotInRoom, from, roomID)
	}
	to, _ := room.Partner(from)
	mb := e.conns.mailbox(to)
	if mb == nil || !mb.Deliver(Event{Type: kind, RoomID: roomID, From: from, Payload: payload}) {
		e.metrics.Inc(metrics.SignalsDropped)
		e.log.Warn("signal dropped", "room_id", roomID, "conn_id", from, "to", to, "kind", string(kind))
		return nil
	}
	e.metrics.Inc(metrics.SignalsRelayed)
	e.log.Debug("signal relayed", "room_id", roomID, "conn_id", from, "to", to, "kind", string(kind))
	return nil
}

// deliverControl sends a lifecycle event. A mailbox that rejects one is
// expected to close its transport, which ends in Disconnect.
func (e *Engine) deliverControl(id string, ev Event) {
	mb := e.conns.mailbox(id)
	if mb == nil {
		return
	}
	if !mb.Deliver(ev) {
		e.metrics.Inc(metrics.MailboxKicks)
		e.log.Warn("control event not delivered", "conn_id", id, "room_id", ev.RoomID, "event", string(ev.Type))
	}
}

func peerOf(c Connection) Peer {
	return Peer{ConnectionID: c.ID, UserID: c.UserID, DisplayName: c.DisplayName}
}
