package signaling

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ntbroker/wrtc-signal/internal/validate"
)

// ErrPeerAlreadyInRoom is returned by AddPeer when the peer id is already a
// member.
var ErrPeerAlreadyInRoom = errors.New("signaling: peer already a room member")

// ErrPeerNotInRoom is returned by RemovePeer when the peer id is absent.
var ErrPeerNotInRoom = errors.New("signaling: peer not a room member")

// Room is a named container of peers. It holds weak references only: a
// Peer outlives the Room iff it leaves before the room empties.
type Room struct {
	id       string
	password string // "" means passwordless

	mu      sync.RWMutex
	order   []string // insertion order, convenience only
	members map[string]*Peer
}

// NewRoom validates id and, if non-empty, password, then constructs an
// empty Room.
func NewRoom(id, password string) (*Room, error) {
	if err := validate.RoomID(id); err != nil {
		return nil, err
	}
	if password != "" {
		if err := validate.Password(password); err != nil {
			return nil, err
		}
	}
	return &Room{
		id:       id,
		password: password,
		members:  make(map[string]*Peer),
	}, nil
}

// ID returns the room's immutable id.
func (r *Room) ID() string { return r.id }

// HasPassword reports whether the room requires a password to join.
func (r *Room) HasPassword() bool { return r.password != "" }

// VerifyPassword returns true for passwordless rooms; otherwise it checks
// literal equality with the stored password.
func (r *Room) VerifyPassword(candidate string) bool {
	if r.password == "" {
		return true
	}
	return candidate == r.password
}

// AddPeer adds p as a member. Fails if p.ID() is already present.
func (r *Room) AddPeer(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[p.ID()]; ok {
		return ErrPeerAlreadyInRoom
	}
	r.members[p.ID()] = p
	r.order = append(r.order, p.ID())
	return nil
}

// RemovePeer removes the member with the given id. Fails if absent.
func (r *Room) RemovePeer(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return ErrPeerNotInRoom
	}
	delete(r.members, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetPeer returns the member with the given id, if present.
func (r *Room) GetPeer(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.members[id]
	return p, ok
}

// HasPeer reports whether id is a current member.
func (r *Room) HasPeer(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// Size returns the current member count.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// IsEmpty reports whether the room has no members.
func (r *Room) IsEmpty() bool {
	return r.Size() == 0
}

// Members returns a snapshot of current members in insertion order. The
// returned slice is safe to range over after the room mutates concurrently.
func (r *Room) Members() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.members[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Broadcast writes msgType/payload to every member whose id is not in
// exclude, ignoring per-peer send failures. It snapshots the member list
// before sending, so a concurrent AddPeer/RemovePeer during fan-out is
// safe and delivery to one member never blocks on another.
func (r *Room) Broadcast(msgType string, payload any, exclude ...string) {
	excluded := mapset.NewSet(exclude...)
	for _, p := range r.Members() {
		if excluded.Contains(p.ID()) {
			continue
		}
		p.Send(msgType, payload)
	}
}
