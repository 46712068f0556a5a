// Package server is the orchestrator: the WebSocket acceptor, the
// per-connection read loop, the dispatch state machine, the registry of
// all peers and rooms, the liveness ticker, and the start/stop lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ntbroker/wrtc-signal/internal/config"
	"github.com/ntbroker/wrtc-signal/internal/eventbus"
	"github.com/ntbroker/wrtc-signal/internal/health"
	"github.com/ntbroker/wrtc-signal/internal/logs"
	"github.com/ntbroker/wrtc-signal/internal/metrics"
	"github.com/ntbroker/wrtc-signal/internal/middleware"
	"github.com/ntbroker/wrtc-signal/internal/protocol"
	"github.com/ntbroker/wrtc-signal/internal/signaling"
)

// ErrAlreadyRunning is returned by Start when the server is already
// listening.
var ErrAlreadyRunning = errors.New("server: already running")

// ErrNotRunning is returned by Stop when the server is not listening.
var ErrNotRunning = errors.New("server: not running")

// Server is the signaling and room-brokering orchestrator. It owns both
// registries (peer-id -> Peer, room-id -> Room) behind one mutex, matching
// the single-writer discipline documented in internal/signaling.
type Server struct {
	cfg     config.Config
	log     *zap.Logger
	Bus     *eventbus.Bus
	limiter *middleware.Limiter

	upgrader websocket.Upgrader

	mu      sync.Mutex
	peers   map[string]*signaling.Peer
	rooms   map[string]*signaling.Room
	running bool

	listener   net.Listener
	httpServer *http.Server
	ready      health.Ready

	ticker     *time.Ticker
	tickerDone chan struct{}
}

// New constructs a Server. bus may be nil, in which case an internal bus
// with no listeners is used (Emit becomes a no-op observer point).
func New(cfg config.Config, log *zap.Logger, bus *eventbus.Bus) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = eventbus.New(log)
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		Bus:     bus,
		limiter: middleware.New(cfg.WSRatePerMin),
		peers:   make(map[string]*signaling.Peer),
		rooms:   make(map[string]*signaling.Room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4 << 10,
			WriteBufferSize:   4 << 10,
			EnableCompression: false,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
	}
}

// Start validates configuration, binds the acceptor (or attaches to
// cfg.Listener), starts the liveness ticker, and begins accepting
// connections. It fails if already running.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := s.cfg.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: invalid config: %w", err)
	}

	ln := s.cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.BindAddr())
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("server: listen: %w", err)
		}
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Healthz())
	mux.Handle("/readyz", s.ready.Readyz())
	mux.Handle(s.cfg.MetricsRoute, metrics.Handler())
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	s.httpServer = &http.Server{
		Handler:           logs.RequestLogger(s.log, middleware.New(s.cfg.HTTPRatePerMin).Middleware()(mux)),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	s.ticker = time.NewTicker(s.cfg.Heartbeat)
	s.tickerDone = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.livenessLoop()
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server: accept loop error", zap.Error(err))
			s.emit(eventbus.Event{Name: eventbus.ServerError, Data: ServerErrorData{Err: err}})
		}
	}()

	s.ready.Set(true)
	s.emit(eventbus.Event{Name: eventbus.ServerStarted})
	return nil
}

// Stop stops the liveness ticker, closes the acceptor, and clears both
// registries. It fails if not running. On a close error, state is left
// intact and the error is returned.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	httpServer := s.httpServer
	ticker := s.ticker
	tickerDone := s.tickerDone
	s.mu.Unlock()

	s.ready.Set(false)
	ticker.Stop()
	close(tickerDone)

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	s.mu.Lock()
	s.peers = make(map[string]*signaling.Peer)
	s.rooms = make(map[string]*signaling.Room)
	s.running = false
	s.mu.Unlock()

	metrics.SetPeers(0)
	metrics.SetRooms(0)

	s.emit(eventbus.Event{Name: eventbus.ServerStopped})
	return nil
}

// Addr returns the bound listener's address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// emit publishes ev on the bus and records it in the events-emitted metric.
func (s *Server) emit(ev eventbus.Event) {
	metrics.EventsEmittedTotal.WithLabelValues(ev.Name).Inc()
	s.Bus.Emit(ev)
}

func (s *Server) livenessLoop() {
	for {
		select {
		case <-s.tickerDone:
			return
		case <-s.ticker.C:
			s.tick()
		}
	}
}

// tick implements the two-tick liveness model: a peer observed not-alive
// (no pong since the previous ping) is terminated; everyone else is
// pinged, which flips their alive flag to false until the next pong.
func (s *Server) tick() {
	s.mu.Lock()
	snapshot := make([]*signaling.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		snapshot = append(snapshot, p)
	}
	s.mu.Unlock()

	for _, p := range snapshot {
		if !p.IsAlive() {
			s.emit(eventbus.Event{Name: eventbus.PeerTimeout, Data: PeerTimeoutData{PeerID: p.ID()}})
			_ = p.Terminate()
			continue
		}
		if err := p.Ping(); err != nil {
			s.log.Debug("liveness: ping failed", zap.String("peerID", p.ID()), zap.Error(err))
		}
	}
}

func (s *Server) addPeer(p *signaling.Peer) {
	s.mu.Lock()
	s.peers[p.ID()] = p
	n := len(s.peers)
	s.mu.Unlock()
	metrics.SetPeers(n)
}

func (s *Server) removePeer(id string) {
	s.mu.Lock()
	delete(s.peers, id)
	n := len(s.peers)
	s.mu.Unlock()
	metrics.SetPeers(n)
}

func (s *Server) getRoom(id string) (*signaling.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Server) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Server) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// handleUpgrade implements the per-connection lifecycle of spec section
// 4.6: accept, register, CONNECTION_ESTABLISHED, read loop, cleanup.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.AllowWS(r) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	p := signaling.NewPeer(ws)
	p.SetReadLimit(s.cfg.WSMaxMsg)
	p.SetPongHandler(func(string) error {
		p.UpdatePongReceived()
		return p.SetReadDeadline(time.Now().Add(2 * s.cfg.Heartbeat))
	})
	_ = p.SetReadDeadline(time.Now().Add(2 * s.cfg.Heartbeat))

	s.addPeer(p)
	metrics.WSConnectionsTotal.Inc()
	s.emit(eventbus.Event{Name: eventbus.PeerConnected, Data: PeerConnectedData{PeerID: p.ID()}})

	p.Send(protocol.TypeConnectionEstablished, protocol.ConnectionEstablished{
		PeerID:      p.ID(),
		DisplayName: p.DisplayName(),
		ICEServers:  s.cfg.ICEServers,
	})

	s.readLoop(p)

	if _, ok := s.removePeerFromRoom(p); ok {
		s.log.Debug("peer left room on disconnect", zap.String("peerID", p.ID()))
	}
	s.removePeer(p.ID())
	s.emit(eventbus.Event{Name: eventbus.PeerDisconnected, Data: PeerDisconnectedData{PeerID: p.ID()}})
}

func (s *Server) readLoop(p *signaling.Peer) {
	for {
		_, raw, err := p.ReadMessage()
		if err != nil {
			return
		}
		_ = p.SetReadDeadline(time.Now().Add(2 * s.cfg.Heartbeat))

		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			s.log.Debug("dropped frame", zap.Error(err))
			metrics.WSErrorsTotal.Inc()
			continue
		}
		frame, err := protocol.Decode(env)
		if err != nil {
			s.log.Debug("dropped frame", zap.String("type", env.Type), zap.Error(err))
			metrics.WSErrorsTotal.Inc()
			continue
		}
		metrics.WSMessagesTotal.WithLabelValues(env.Type).Inc()
		s.dispatch(p, frame)
	}
}
