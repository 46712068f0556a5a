package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ntbroker/wrtc-signal/internal/protocol"
	"github.com/ntbroker/wrtc-signal/internal/validate"
)

// ErrAlreadyInRoom is returned by JoinRoom when the peer already has a
// current room.
var ErrAlreadyInRoom = errors.New("signaling: peer already in a room")

// ErrNotInRoom is returned by LeaveRoom when the peer has no current room.
var ErrNotInRoom = errors.New("signaling: peer not in a room")

// Peer represents one connected client. It is a pure state holder: it
// never mutates the server's registries and never emits events: those are
// the server core's job. Peer.id never changes after construction.
type Peer struct {
	id     string
	socket *conn

	mu          sync.Mutex
	displayName string
	roomID      string // "" means not in a room
	alive       bool
	lastPong    time.Time
}

// NewPeer allocates a Peer with a fresh random id. Its initial display name
// is that id, so a peer is always displayable.
func NewPeer(ws *websocket.Conn) *Peer {
	id := uuid.New().String()
	now := time.Now()
	return &Peer{
		id:          id,
		socket:      newConn(ws),
		displayName: id,
		alive:       true,
		lastPong:    now,
	}
}

// ID returns the peer's immutable identity.
func (p *Peer) ID() string { return p.id }

// DisplayName returns the current display name.
func (p *Peer) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayName
}

// RoomID returns the peer's current room id and whether it is in a room.
func (p *Peer) RoomID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roomID == "" {
		return "", false
	}
	return p.roomID, true
}

// IsAlive reports the current liveness flag.
func (p *Peer) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// Send encodes payload as msgType and writes it to the socket. It returns
// false on any write failure; it never panics or propagates the error,
// per the "a write failure does not remove the peer" rule.
func (p *Peer) Send(msgType string, payload any) bool {
	raw, err := protocol.Encode(msgType, payload)
	if err != nil {
		return false
	}
	return p.socket.writeMessage(websocket.TextMessage, raw) == nil
}

// SendError wraps text in an ERROR frame and sends it.
func (p *Peer) SendError(text string) bool {
	return p.Send(protocol.TypeError, protocol.ErrorMsg{Message: text})
}

// Ping flips the liveness flag to false and writes a protocol-level
// WebSocket ping. A subsequent pong flips it back via UpdatePongReceived.
func (p *Peer) Ping() error {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
	return p.socket.writeControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// UpdatePongReceived flips the liveness flag back to true and bumps the
// last-pong timestamp. Intended to be wired as the socket's pong handler.
func (p *Peer) UpdatePongReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = true
	p.lastPong = time.Now()
}

// Terminate forces the socket closed without a graceful handshake.
func (p *Peer) Terminate() error {
	return p.socket.terminate()
}

// UpdateDisplayName trims and validates s, then assigns it, returning both
// the applied name and the name it replaced (for peer:displayNameUpdated).
// On failure the peer's display name is left unchanged.
func (p *Peer) UpdateDisplayName(s string) (newName, oldName string, err error) {
	trimmed, err := validate.DisplayName(s)
	if err != nil {
		return "", "", err
	}
	p.mu.Lock()
	oldName = p.displayName
	p.displayName = trimmed
	p.mu.Unlock()
	return trimmed, oldName, nil
}

// JoinRoom sets the peer's current room id. Fails if the peer is already
// in a room.
func (p *Peer) JoinRoom(roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roomID != "" {
		return ErrAlreadyInRoom
	}
	p.roomID = roomID
	return nil
}

// LeaveRoom clears the peer's current room id and returns the room id it
// was in. Fails if the peer is not in a room.
func (p *Peer) LeaveRoom() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roomID == "" {
		return "", ErrNotInRoom
	}
	prev := p.roomID
	p.roomID = ""
	return prev, nil
}

// SetPongHandler installs fn as the socket's pong handler.
func (p *Peer) SetPongHandler(fn func(string) error) {
	p.socket.setPongHandler(fn)
}

// SetReadDeadline forwards to the underlying socket.
func (p *Peer) SetReadDeadline(t time.Time) error {
	return p.socket.setReadDeadline(t)
}

// SetReadLimit forwards to the underlying socket.
func (p *Peer) SetReadLimit(n int64) {
	p.socket.setReadLimit(n)
}

// ReadMessage forwards to the underlying socket.
func (p *Peer) ReadMessage() (int, []byte, error) {
	return p.socket.readMessage()
}
