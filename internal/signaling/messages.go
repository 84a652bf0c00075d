package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
)

type messageType string

const (
	messageTypeAuth       messageType = "auth"
	messageTypeSeek       messageType = "seek"
	messageTypeCancelSeek messageType = "cancelSeek"
	messageTypeNext       messageType = "next"
	messageTypeOffer      messageType = "offer"
	messageTypeAnswer     messageType = "answer"
	messageTypeCandidate  messageType = "candidate"
	messageTypeClose      messageType = "close"

	messageTypeAuthenticated messageType = "authenticated"
	messageTypeAuthRejected  messageType = "authRejected"
	messageTypeMatched       messageType = "matched"
	messageTypePartnerLeft   messageType = "partnerLeft"
	messageTypeError         messageType = "error"
)

const maxRoomIDLen = 128

// clientMessage is any frame a client may send.
type clientMessage struct {
	Type messageType `json:"type"`

	Token       string `json:"token,omitempty"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m clientMessage) hasIdentity() bool {
	return m.Token != "" || m.UserID != "" || m.DisplayName != ""
}

func (m clientMessage) hasRelay() bool {
	return m.RoomID != "" || len(m.Payload) != 0
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeAuth:
		if m.Token == "" && m.UserID == "" {
			return fmt.Errorf("auth message missing token/userId")
		}
		if m.hasRelay() {
			return fmt.Errorf("auth message has unexpected fields")
		}
	case messageTypeSeek, messageTypeCancelSeek, messageTypeNext, messageTypeClose:
		if m.hasIdentity() || m.hasRelay() {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case messageTypeOffer, messageTypeAnswer, messageTypeCandidate:
		if m.RoomID == "" {
			return fmt.Errorf("%s message missing roomId", m.Type)
		}
		if len(m.RoomID) > maxRoomIDLen {
			return fmt.Errorf("%s message roomId too long", m.Type)
		}
		if len(m.Payload) == 0 || bytes.Equal(m.Payload, []byte("null")) {
			return fmt.Errorf("%s message missing payload", m.Type)
		}
		if m.hasIdentity() {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

type wireUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// serverMessage is any frame the server sends.
type serverMessage struct {
	Type messageType `json:"type"`

	ConnectionID string    `json:"connectionId,omitempty"`
	User         *wireUser `json:"user,omitempty"`
	Reason       string    `json:"reason,omitempty"`

	RoomID    string   `json:"roomId,omitempty"`
	Users     []string `json:"users,omitempty"`
	Usernames []string `json:"usernames,omitempty"`
	PeerID    string   `json:"peerId,omitempty"`
	PeerName  string   `json:"peerName,omitempty"`
	IsCaller  *bool    `json:"isCaller,omitempty"`

	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func serverMessageFromEvent(ev matchmaking.Event) serverMessage {
	switch ev.Type {
	case matchmaking.EventMatched:
		isCaller := ev.IsCaller
		return serverMessage{
			Type:      messageTypeMatched,
			RoomID:    ev.RoomID,
			Users:     []string{ev.Members[0].ConnectionID, ev.Members[1].ConnectionID},
			Usernames: []string{ev.Members[0].DisplayName, ev.Members[1].DisplayName},
			PeerID:    ev.Peer.ConnectionID,
			PeerName:  ev.Peer.DisplayName,
			IsCaller:  &isCaller,
		}
	case matchmaking.EventPartnerLeft:
		return serverMessage{Type: messageTypePartnerLeft, RoomID: ev.RoomID}
	default:
		return serverMessage{
			Type:    messageType(ev.Type),
			RoomID:  ev.RoomID,
			From:    ev.From,
			Payload: ev.Payload,
		}
	}
}

func errorMessage(code, message string) serverMessage {
	return serverMessage{Type: messageTypeError, Code: code, Message: message}
}
