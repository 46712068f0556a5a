package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn wraps a *websocket.Conn to serialize all writes, matching the
// one-writer-per-socket discipline required by gorilla/websocket. This is
// the same shape as the teacher's connWrap, generalized to carry pings and
// abortive closes as well as JSON writes.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

func (c *conn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) writeControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(messageType, data, deadline)
}

func (c *conn) setPongHandler(fn func(string) error) {
	c.ws.SetPongHandler(fn)
}

func (c *conn) setReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *conn) setReadLimit(n int64) {
	c.ws.SetReadLimit(n)
}

func (c *conn) readMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// terminate forces the socket closed without a graceful handshake.
func (c *conn) terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Close()
}
