// Package signaling is the WebSocket front end of the matchmaking engine.
//
// Each connection authenticates, registers with the engine, and then
// exchanges JSON text frames: seek/cancelSeek/next drive pairing, and
// offer/answer/candidate frames are relayed to the room partner without being
// inspected.
package signaling
