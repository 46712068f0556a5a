// Package eventbus is a small typed publish/subscribe facility the server
// uses to notify embedders of lifecycle events. Listener panics never
// propagate to the emitter.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Event names emitted by the server core.
const (
	ServerStarted           = "server:started"
	ServerStopped           = "server:stopped"
	ServerError             = "server:error"
	PeerConnected           = "peer:connected"
	PeerJoined              = "peer:joined"
	PeerLeft                = "peer:left"
	PeerDisconnected        = "peer:disconnected"
	PeerTimeout             = "peer:timeout"
	PeerDisplayNameUpdated  = "peer:displayNameUpdated"
	PeerLimitReachedPerRoom = "peer:limitReachedPerRoom"
	RoomCreated             = "room:created"
	RoomRemoved             = "room:removed"
	RoomLimitReachedServer  = "room:limitReachedPerServer"
)

// Event is the value delivered to every listener of Name.
type Event struct {
	Name string
	Data any
}

// listenerID is the handle returned by On, used by Off to remove exactly
// one registration (Go funcs aren't comparable, so we can't key off the
// func value itself).
type listenerID uint64

type entry struct {
	id listenerID
	fn func(Event)
}

// Bus is a multi-listener registry. Duplicate registration of logically
// identical callbacks is allowed and causes duplicate invocation; removing
// an unknown listener is a no-op.
type Bus struct {
	log *zap.Logger

	mu        sync.Mutex
	listeners map[string][]entry
	next      listenerID
}

// New builds an empty Bus. log may be nil, in which case listener panics
// are swallowed silently.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, listeners: make(map[string][]entry)}
}

// Token identifies one registration, for use with Off.
type Token struct {
	name string
	id   listenerID
}

// On registers fn to be called on every Emit of the given event name.
func (b *Bus) On(name string, fn func(Event)) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.listeners[name] = append(b.listeners[name], entry{id: id, fn: fn})
	return Token{name: name, id: id}
}

// Off removes the single registration identified by tok. Unknown tokens
// are a no-op.
func (b *Bus) Off(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.listeners[tok.name]
	for i, e := range entries {
		if e.id == tok.id {
			b.listeners[tok.name] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit calls every listener registered for ev.Name, in registration order.
// Listeners are invoked against a snapshot taken under lock, so On/Off
// called from within a listener never deadlocks and never perturbs the
// delivery in progress. A panicking listener is recovered and logged; it
// never stops delivery to the others.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	entries := append([]entry(nil), b.listeners[ev.Name]...)
	b.mu.Unlock()

	for _, e := range entries {
		b.safeCall(e.fn, ev)
	}
}

func (b *Bus) safeCall(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: listener panicked",
				zap.String("event", ev.Name),
				zap.Any("recovered", r),
			)
		}
	}()
	fn(ev)
}
