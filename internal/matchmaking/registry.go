package matchmaking

import (
	"fmt"
	"time"
)

// Status is a connection's position in the matchmaking lifecycle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWaiting Status = "waiting"
	StatusInCall  Status = "in_call"
)

func (s Status) valid() bool {
	switch s {
	case StatusIdle, StatusWaiting, StatusInCall:
		return true
	default:
		return false
	}
}

// Connection is a snapshot of one authenticated transport session.
//
// RoomID is non-empty if and only if Status is StatusInCall.
type Connection struct {
	ID          string
	UserID      string
	DisplayName string
	Status      Status
	RoomID      string
	ConnectedAt time.Time
}

type registryEntry struct {
	conn    Connection
	mailbox Mailbox
}

// registry is the authoritative connection table. It is not safe for
// concurrent use; Engine serializes access to it.
type registry struct {
	conns map[string]*registryEntry
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*registryEntry)}
}

func (r *registry) len() int { return len(r.conns) }

func (r *registry) register(id, userID, displayName string, mb Mailbox, now time.Time) (Connection, error) {
	if id == "" || userID == "" {
		return Connection{}, fmt.Errorf("%w: connection id and user id are required", ErrInvalidIdentity)
	}
	if _, ok := r.conns[id]; ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	conn := Connection{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		Status:      StatusIdle,
		ConnectedAt: now,
	}
	r.conns[id] = &registryEntry{conn: conn, mailbox: mb}
	return conn, nil
}

func (r *registry) get(id string) (Connection, error) {
	entry, ok := r.conns[id]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry.conn, nil
}

func (r *registry) mailbox(id string) Mailbox {
	entry, ok := r.conns[id]
	if !ok {
		return nil
	}
	return entry.mailbox
}

// setStatus updates a connection's status. roomID must be set exactly when
// status is StatusInCall.
func (r *registry) setStatus(id string, status Status, roomID string) error {
	entry, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !status.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if (status == StatusInCall) != (roomID != "") {
		return fmt.Errorf("%w: status %s with room %q", ErrInvalidTransition, status, roomID)
	}
	entry.conn.Status = status
	entry.conn.RoomID = roomID
	return nil
}

func (r *registry) remove(id string) (Connection, error) {
	entry, ok := r.conns[id]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.conns, id)
	return entry.conn, nil
}
