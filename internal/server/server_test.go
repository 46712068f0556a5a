package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ntbroker/wrtc-signal/internal/config"
	"github.com/ntbroker/wrtc-signal/internal/eventbus"
	"github.com/ntbroker/wrtc-signal/internal/server"
)

func newTestConfig(t *testing.T) config.Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return config.Config{
		Listener:          ln,
		Path:              "/ws",
		Heartbeat:         30 * time.Second,
		WSMaxMsg:          1 << 20,
		MetricsRoute:      "/metrics",
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func startTestServer(t *testing.T, cfg config.Config) (*server.Server, string) {
	t.Helper()
	bus := eventbus.New(nil)
	s := server.New(cfg, nil, bus)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	addr := s.Addr().(*net.TCPAddr)
	return s, "127.0.0.1:" + strconv.Itoa(addr.Port)
}

func dialWS(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	return c
}

type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, c *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := wireEnvelope{Type: msgType, Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvInto(t *testing.T, c *websocket.Conn, out any) string {
	t.Helper()
	_, raw, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			t.Fatalf("unmarshal payload for %s: %v", env.Type, err)
		}
	}
	return env.Type
}

func TestTwoPeerJoin(t *testing.T) {
	_, addr := startTestServer(t, newTestConfig(t))

	c1 := dialWS(t, addr, "/ws")
	defer c1.Close()

	var established struct {
		PeerID string `json:"peerId"`
	}
	if typ := recvInto(t, c1, &established); typ != "CONNECTION_ESTABLISHED" {
		t.Fatalf("expected CONNECTION_ESTABLISHED, got %s", typ)
	}
	peerX := established.PeerID

	send(t, c1, "JOIN_ROOM", map[string]any{"roomId": "r1", "displayName": "A"})
	var joined1 struct {
		RoomID string `json:"roomId"`
		Peers  []any  `json:"peers"`
	}
	if typ := recvInto(t, c1, &joined1); typ != "ROOM_JOINED" {
		t.Fatalf("expected ROOM_JOINED, got %s", typ)
	}
	if len(joined1.Peers) != 0 {
		t.Fatalf("expected empty peers on first join, got %v", joined1.Peers)
	}

	c2 := dialWS(t, addr, "/ws")
	defer c2.Close()
	var established2 struct {
		PeerID string `json:"peerId"`
	}
	recvInto(t, c2, &established2)
	peerY := established2.PeerID

	send(t, c2, "JOIN_ROOM", map[string]any{"roomId": "r1", "displayName": "B"})
	var joined2 struct {
		RoomID string `json:"roomId"`
		Peers  []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"peers"`
	}
	if typ := recvInto(t, c2, &joined2); typ != "ROOM_JOINED" {
		t.Fatalf("expected ROOM_JOINED, got %s", typ)
	}
	if len(joined2.Peers) != 1 || joined2.Peers[0].ID != peerX || joined2.Peers[0].DisplayName != "A" {
		t.Fatalf("unexpected peers in ROOM_JOINED: %+v", joined2.Peers)
	}

	var peerJoined struct {
		PeerID      string `json:"peerId"`
		DisplayName string `json:"displayName"`
	}
	if typ := recvInto(t, c1, &peerJoined); typ != "PEER_JOINED" {
		t.Fatalf("expected PEER_JOINED on c1, got %s", typ)
	}
	if peerJoined.PeerID != peerY || peerJoined.DisplayName != "B" {
		t.Fatalf("unexpected PEER_JOINED: %+v", peerJoined)
	}
}

func TestPasswordGate(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RequireRoomPassword = true
	_, addr := startTestServer(t, cfg)

	c1 := dialWS(t, addr, "/ws")
	defer c1.Close()
	recvInto(t, c1, nil)

	send(t, c1, "JOIN_ROOM", map[string]any{"roomId": "r2"})
	var errMsg struct {
		Message string `json:"message"`
	}
	if typ := recvInto(t, c1, &errMsg); typ != "ERROR" {
		t.Fatalf("expected ERROR, got %s", typ)
	}
	if errMsg.Message != "Password is required to create a room" {
		t.Fatalf("unexpected error message: %q", errMsg.Message)
	}

	send(t, c1, "JOIN_ROOM", map[string]any{"roomId": "r2", "password": "abcd"})
	if typ := recvInto(t, c1, nil); typ != "ROOM_JOINED" {
		t.Fatalf("expected ROOM_JOINED, got %s", typ)
	}

	c2 := dialWS(t, addr, "/ws")
	defer c2.Close()
	recvInto(t, c2, nil)

	send(t, c2, "JOIN_ROOM", map[string]any{"roomId": "r2", "password": "wrong"})
	var pwRequired struct {
		RoomID string `json:"roomId"`
	}
	if typ := recvInto(t, c2, &pwRequired); typ != "PASSWORD_REQUIRED" {
		t.Fatalf("expected PASSWORD_REQUIRED, got %s", typ)
	}

	send(t, c2, "JOIN_ROOM", map[string]any{"roomId": "r2", "password": "abcd"})
	if typ := recvInto(t, c2, nil); typ != "ROOM_JOINED" {
		t.Fatalf("expected ROOM_JOINED, got %s", typ)
	}
}

func TestCapacity(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxPeersPerRoom = 2
	_, addr := startTestServer(t, cfg)

	c1 := dialWS(t, addr, "/ws")
	defer c1.Close()
	recvInto(t, c1, nil)
	send(t, c1, "JOIN_ROOM", map[string]any{"roomId": "r3"})
	recvInto(t, c1, nil)

	c2 := dialWS(t, addr, "/ws")
	defer c2.Close()
	recvInto(t, c2, nil)
	send(t, c2, "JOIN_ROOM", map[string]any{"roomId": "r3"})
	recvInto(t, c2, nil) // ROOM_JOINED
	recvInto(t, c1, nil) // PEER_JOINED broadcast to c1

	c3 := dialWS(t, addr, "/ws")
	defer c3.Close()
	recvInto(t, c3, nil)
	send(t, c3, "JOIN_ROOM", map[string]any{"roomId": "r3"})
	var errMsg struct {
		Message string `json:"message"`
	}
	if typ := recvInto(t, c3, &errMsg); typ != "ERROR" {
		t.Fatalf("expected ERROR, got %s", typ)
	}
}

func TestSignalingRelay(t *testing.T) {
	_, addr := startTestServer(t, newTestConfig(t))

	cx := dialWS(t, addr, "/ws")
	defer cx.Close()
	var estX struct {
		PeerID string `json:"peerId"`
	}
	recvInto(t, cx, &estX)
	send(t, cx, "JOIN_ROOM", map[string]any{"roomId": "r4"})
	recvInto(t, cx, nil)

	cy := dialWS(t, addr, "/ws")
	defer cy.Close()
	var estY struct {
		PeerID string `json:"peerId"`
	}
	recvInto(t, cy, &estY)
	send(t, cy, "JOIN_ROOM", map[string]any{"roomId": "r4"})
	recvInto(t, cy, nil) // ROOM_JOINED
	recvInto(t, cx, nil) // PEER_JOINED on cx

	send(t, cx, "OFFER", map[string]any{
		"toPeerId": estY.PeerID,
		"offer":    map[string]any{"type": "offer", "sdp": "s1"},
	})

	var relayed struct {
		FromPeerID string `json:"fromPeerId"`
		ToPeerID   string `json:"toPeerId"`
		Offer      struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		} `json:"offer"`
	}
	if typ := recvInto(t, cy, &relayed); typ != "OFFER" {
		t.Fatalf("expected OFFER, got %s", typ)
	}
	if relayed.FromPeerID != estX.PeerID || relayed.ToPeerID != estY.PeerID || relayed.Offer.SDP != "s1" {
		t.Fatalf("unexpected relay: %+v", relayed)
	}

	_ = cx.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := cx.ReadMessage(); err == nil {
		t.Fatalf("expected no message delivered back to sender")
	}
}

func TestEmptyRoomCleanup(t *testing.T) {
	cfg := newTestConfig(t)
	srv, addr := startTestServer(t, cfg)

	removed := make(chan string, 1)
	srv.Bus.On(eventbus.RoomRemoved, func(ev eventbus.Event) {
		if d, ok := ev.Data.(server.RoomRemovedData); ok {
			removed <- d.RoomID
		}
	})

	c1 := dialWS(t, addr, "/ws")
	defer c1.Close()
	recvInto(t, c1, nil)
	send(t, c1, "JOIN_ROOM", map[string]any{"roomId": "r5"})
	recvInto(t, c1, nil)

	send(t, c1, "LEAVE_ROOM", map[string]any{})
	var left struct {
		RoomID string `json:"roomId"`
	}
	if typ := recvInto(t, c1, &left); typ != "ROOM_LEFT" {
		t.Fatalf("expected ROOM_LEFT, got %s", typ)
	}
	if left.RoomID != "r5" {
		t.Fatalf("unexpected roomId: %q", left.RoomID)
	}

	select {
	case roomID := <-removed:
		if roomID != "r5" {
			t.Fatalf("unexpected removed room: %q", roomID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room:removed")
	}
}

func TestKnock(t *testing.T) {
	cfg := newTestConfig(t)
	_, addr := startTestServer(t, cfg)

	c1 := dialWS(t, addr, "/ws")
	defer c1.Close()
	recvInto(t, c1, nil)
	send(t, c1, "JOIN_ROOM", map[string]any{"roomId": "r6", "password": "secret"})
	recvInto(t, c1, nil)

	c2 := dialWS(t, addr, "/ws")
	defer c2.Close()
	recvInto(t, c2, nil)

	send(t, c2, "KNOCK", map[string]any{"roomId": "r6"})
	var resp struct {
		RoomID      string `json:"roomId"`
		Exists      bool   `json:"exists"`
		HasPassword bool   `json:"hasPassword"`
		PeerCount   int    `json:"peerCount"`
		IsFull      bool   `json:"isFull"`
	}
	if typ := recvInto(t, c2, &resp); typ != "KNOCK_RESPONSE" {
		t.Fatalf("expected KNOCK_RESPONSE, got %s", typ)
	}
	if !resp.Exists || !resp.HasPassword || resp.PeerCount != 1 || resp.IsFull {
		t.Fatalf("unexpected knock response: %+v", resp)
	}

	send(t, c2, "KNOCK", map[string]any{"roomId": "nope"})
	var resp2 struct {
		RoomID      string `json:"roomId"`
		Exists      bool   `json:"exists"`
		HasPassword bool   `json:"hasPassword"`
		PeerCount   int    `json:"peerCount"`
		IsFull      bool   `json:"isFull"`
	}
	if typ := recvInto(t, c2, &resp2); typ != "KNOCK_RESPONSE" {
		t.Fatalf("expected KNOCK_RESPONSE, got %s", typ)
	}
	if resp2.Exists || resp2.HasPassword || resp2.PeerCount != 0 || resp2.IsFull {
		t.Fatalf("unexpected knock response for missing room: %+v", resp2)
	}
}

func TestCustomBroadcastExcludesSender(t *testing.T) {
	_, addr := startTestServer(t, newTestConfig(t))

	c1 := dialWS(t, addr, "/ws")
	defer c1.Close()
	recvInto(t, c1, nil)
	send(t, c1, "JOIN_ROOM", map[string]any{"roomId": "r7"})
	recvInto(t, c1, nil)

	c2 := dialWS(t, addr, "/ws")
	defer c2.Close()
	recvInto(t, c2, nil)
	send(t, c2, "JOIN_ROOM", map[string]any{"roomId": "r7"})
	recvInto(t, c2, nil) // ROOM_JOINED
	recvInto(t, c1, nil) // PEER_JOINED on c1

	send(t, c1, "CUSTOM", map[string]any{"customType": "chat.message", "data": map[string]any{"text": "hi"}})

	var custom struct {
		FromPeerID string `json:"fromPeerId"`
		CustomType string `json:"customType"`
	}
	if typ := recvInto(t, c2, &custom); typ != "CUSTOM" {
		t.Fatalf("expected CUSTOM, got %s", typ)
	}
	if custom.CustomType != "chat.message" {
		t.Fatalf("unexpected custom type: %q", custom.CustomType)
	}

	_ = c1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := c1.ReadMessage(); err == nil {
		t.Fatalf("sender should not receive its own CUSTOM broadcast")
	}
}
