package matchmaking

import "encoding/json"

type EventType string

const (
	EventMatched     EventType = "matched"
	EventOffer       EventType = "offer"
	EventAnswer      EventType = "answer"
	EventCandidate   EventType = "candidate"
	EventPartnerLeft EventType = "partnerLeft"
)

// IsSignal reports whether t is a handshake message kind the relay forwards.
func (t EventType) IsSignal() bool {
	switch t {
	case EventOffer, EventAnswer, EventCandidate:
		return true
	default:
		return false
	}
}

// Peer identifies a room member to the other side.
type Peer struct {
	ConnectionID string
	UserID       string
	DisplayName  string
}

// Event is an outbound notification for a single connection.
type Event struct {
	Type   EventType
	RoomID string

	// Set for EventMatched. Members is in room order (caller first).
	Members  [2]Peer
	Peer     Peer
	IsCaller bool

	// Set for relayed handshake messages. Payload is forwarded untouched.
	From    string
	Payload json.RawMessage
}

// Mailbox receives events for one connection.
//
// Deliver is called while the engine lock is held and must not block. It
// returns false when the event could not be accepted (closed or full).
type Mailbox interface {
	Deliver(Event) bool
}

// MailboxFunc adapts a function to the Mailbox interface.
type MailboxFunc func(Event) bool

func (f MailboxFunc) Deliver(ev Event) bool { return f(ev) }
