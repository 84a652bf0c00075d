package matchmaking

import "errors"

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrAlreadyWaiting    = errors.New("connection already waiting")
	ErrNotFound          = errors.New("connection not found")
	ErrInvalidIdentity   = errors.New("invalid connection identity")

	// ErrTooManyConnections is returned by Register when the engine is
	// configured with a connection cap and the cap is reached.
	ErrTooManyConnections = errors.New("too many connections")

	// ErrNotInRoom is returned when a relay sender is not a current member of
	// the room it addressed.
	ErrNotInRoom         = errors.New("connection not in room")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ErrorCode maps an engine error to the stable code used on the wire.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrAlreadyWaiting):
		return "already_waiting"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrTooManyConnections):
		return "too_many_connections"
	default:
		return "internal_error"
	}
}
