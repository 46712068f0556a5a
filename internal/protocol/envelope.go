// Package protocol encodes/decodes the wire envelope and classifies inbound
// frames into the allowed client->server variants.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape for every message in both directions:
// { "type": <string>, "payload": <object> }.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound (client->server) message types.
const (
	TypeJoinRoom           = "JOIN_ROOM"
	TypeLeaveRoom          = "LEAVE_ROOM"
	TypeUpdateDisplayName  = "UPDATE_DISPLAY_NAME"
	TypeKnock              = "KNOCK"
	TypeCustom             = "CUSTOM"
	TypeOffer              = "OFFER"
	TypeAnswer             = "ANSWER"
	TypeICECandidate       = "ICE_CANDIDATE"
)

// Outbound (server->client) message types.
const (
	TypeConnectionEstablished = "CONNECTION_ESTABLISHED"
	TypeRoomJoined            = "ROOM_JOINED"
	TypeRoomLeft              = "ROOM_LEFT"
	TypePeerJoined            = "PEER_JOINED"
	TypePeerLeft              = "PEER_LEFT"
	TypePeerUpdated           = "PEER_UPDATED"
	TypeDisplayNameUpdated    = "DISPLAY_NAME_UPDATED"
	TypeKnockResponse         = "KNOCK_RESPONSE"
	TypePasswordRequired      = "PASSWORD_REQUIRED"
	TypeError                 = "ERROR"
)

// Encode wraps a payload value in an Envelope and marshals it.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload for %s: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// ErrDrop marks an inbound frame as silently droppable: bad JSON, wrong
// envelope shape, or an unrecognized type. It is never sent to the client.
type ErrDrop struct {
	Reason string
}

func (e *ErrDrop) Error() string { return "protocol: dropped frame: " + e.Reason }

// DecodeEnvelope parses raw bytes into an Envelope, verifying the two
// required members are present with the right JSON kinds.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ErrDrop{Reason: "invalid JSON: " + err.Error()}
	}
	if env.Type == "" {
		return Envelope{}, &ErrDrop{Reason: "missing type"}
	}
	if len(env.Payload) == 0 {
		return Envelope{}, &ErrDrop{Reason: "missing payload"}
	}
	if trimmed := bytes.TrimLeft(env.Payload, " \t\r\n"); len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &ErrDrop{Reason: "payload is not an object"}
	}
	return env, nil
}
