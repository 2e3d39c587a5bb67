package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"wschat/internal/services/chat"
)

var errHandshakeFailed = errors.New("websocket handshake failed")

// Hub keeps the websockets held by this process, keyed by connection id.
type Hub struct {
	conns sync.Map // connectionID -> *clientConn
	count atomic.Int64
}

func NewHub() *Hub { return &Hub{} }

func (h *Hub) join(c *clientConn) {
	if _, loaded := h.conns.Swap(c.id, c); !loaded {
		h.count.Add(1)
	}
}

func (h *Hub) leave(c *clientConn) {
	if h.conns.CompareAndDelete(c.id, c) {
		h.count.Add(-1)
	}
}

func (h *Hub) get(id string) (*clientConn, bool) {
	v, ok := h.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*clientConn), true
}

// Len is the number of sockets currently held.
func (h *Hub) Len() int { return int(h.count.Load()) }

// Push writes data to a local connection. A connection that is not held here,
// or whose socket fails the write, is reported as chat.ErrGone: the websocket
// library closes a connection on any write failure.
func (h *Hub) Push(ctx context.Context, id string, data []byte) error {
	c, ok := h.get(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, chat.ErrGone)
	}
	err := c.write(ctx, data)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		select {
		case <-c.ready:
		default:
			// still handshaking; worth another attempt
			return err
		}
	}
	zap.L().Debug("ws.write_failed", zap.String("connection_id", id), zap.Error(err))
	h.leave(c)
	return fmt.Errorf("%s: %w: %v", id, chat.ErrGone, err)
}

// Kick closes a local connection. It reports whether the connection was held
// here.
func (h *Hub) Kick(id, reason string) bool {
	c, ok := h.get(id)
	if !ok {
		return false
	}
	c.close(websocket.StatusPolicyViolation, reason)
	return true
}

// CloseAll closes every held socket with a going-away status.
func (h *Hub) CloseAll() {
	h.conns.Range(func(_, v any) bool {
		v.(*clientConn).close(websocket.StatusGoingAway, "server shutting down")
		return true
	})
}
