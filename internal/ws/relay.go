package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// relayFrame travels over "chat:push:<node>" to the node holding a socket.
type relayFrame struct {
	ConnectionID string `json:"cid"`
	Data         []byte `json:"data,omitempty"`
	Kick         string `json:"kick,omitempty"` // close reason; set for kicks
}

func relayChannel(node string) string { return "chat:push:" + node }

// relay forwards pushes for sockets held by other nodes. Each node subscribes
// to its own channel only, so exactly one process receives a frame.
//
// Received frames are queued per connection and drained by one goroutine per
// busy connection: frames for a socket keep their order, and a slow socket
// never holds up frames for the others.
type relay struct {
	rdc  *redis.Client
	node string
	hub  *Hub

	mu     sync.Mutex
	queues map[string][]relayFrame // connectionID -> frames waiting; present while a drainer runs
}

func newRelay(rdc *redis.Client, node string, hub *Hub) *relay {
	return &relay{rdc: rdc, node: node, hub: hub, queues: make(map[string][]relayFrame)}
}

// publish sends a frame to node and returns how many subscribers got it.
// Zero means the node is not running.
func (r *relay) publish(ctx context.Context, node string, f relayFrame) (int64, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return 0, err
	}
	n, err := r.rdc.Publish(ctx, relayChannel(node), payload).Result()
	if err != nil {
		return 0, fmt.Errorf("relay publish: %w", err)
	}
	return n, nil
}

// Run delivers frames addressed to this node until ctx is done.
// Run must be started once at service boot.
func (r *relay) Run(ctx context.Context) {
	ps := r.rdc.Subscribe(ctx, relayChannel(r.node))
	defer ps.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok { // Redis connection closed.
				return
			}
			r.handle(ctx, []byte(m.Payload))
		}
	}
}

// handle parses one relayed frame and queues it for its connection.
func (r *relay) handle(ctx context.Context, payload []byte) {
	var f relayFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		zap.L().Warn("ws.relay_bad_frame", zap.Error(err))
		return
	}

	r.mu.Lock()
	q, draining := r.queues[f.ConnectionID]
	r.queues[f.ConnectionID] = append(q, f)
	r.mu.Unlock()

	if !draining {
		go r.drain(ctx, f.ConnectionID)
	}
}

func (r *relay) drain(ctx context.Context, id string) {
	for {
		r.mu.Lock()
		q := r.queues[id]
		if len(q) == 0 {
			delete(r.queues, id)
			r.mu.Unlock()
			return
		}
		f := q[0]
		r.queues[id] = q[1:]
		r.mu.Unlock()

		r.deliver(ctx, f)
	}
}

func (r *relay) deliver(ctx context.Context, f relayFrame) {
	if f.Kick != "" {
		r.hub.Kick(f.ConnectionID, f.Kick)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	// The sender already counted this as delivered; a dead socket here is
	// cleaned up by its own reader loop.
	if err := r.hub.Push(ctx, f.ConnectionID, f.Data); err != nil {
		zap.L().Debug("ws.relay_push_failed", zap.String("connection_id", f.ConnectionID), zap.Error(err))
	}
}
