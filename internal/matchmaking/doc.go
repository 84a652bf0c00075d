// Package matchmaking pairs waiting connections into two-member rooms and
// relays handshake messages between room members.
//
// All state (connection registry, waiting queue, room table and pairing
// history) lives behind a single lock owned by Engine. Notifications are handed
// to each connection's Mailbox while that lock is held, so Mailbox
// implementations must never block.
package matchmaking
