package ws

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// clientConn is one websocket held by this node. It is registered in the Hub
// before the handshake completes so pushes racing the handshake wait for it
// instead of failing.
type clientConn struct {
	id      string
	ready   chan struct{}
	rawConn *websocket.Conn // nil after a failed handshake
	mu      sync.Mutex
}

func newClientConn(id string) *clientConn {
	return &clientConn{id: id, ready: make(chan struct{})}
}

// attach completes the handshake; raw may be nil when it failed.
func (c *clientConn) attach(raw *websocket.Conn) {
	c.rawConn = raw
	close(c.ready)
}

func (c *clientConn) write(ctx context.Context, data []byte) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.rawConn == nil {
		return errHandshakeFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.rawConn.Write(ctx, websocket.MessageText, data)
}

func (c *clientConn) close(code websocket.StatusCode, reason string) {
	select {
	case <-c.ready:
	default:
		return
	}
	if c.rawConn != nil {
		_ = c.rawConn.Close(code, reason)
	}
}

