package matchmaking

import "time"

// Room is an active pairing of exactly two connections.
type Room struct {
	ID string
	// Members holds both connection ids in the order they joined the queue.
	Members [2]string
	// CallerID is the member expected to send the first offer.
	CallerID  string
	CreatedAt time.Time
}

func (r Room) has(id string) bool {
	return r.Members[0] == id || r.Members[1] == id
}

// Partner returns the other member of the room.
func (r Room) Partner(id string) (string, bool) {
	switch id {
	case r.Members[0]:
		return r.Members[1], true
	case r.Members[1]:
		return r.Members[0], true
	default:
		return "", false
	}
}
