package ws

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wschat/internal/services/chat"
)

// Transport is the push primitive handed to the chat service. Sockets held by
// this node are written directly; others are relayed over Redis pub/sub.
type Transport struct {
	node  string
	hub   *Hub
	relay *relay // nil when running without Redis
}

var _ chat.Pusher = (*Transport)(nil)

// NewTransport builds the push primitive. rdc may be nil for single-node
// deployments, in which case connections owned by other nodes are gone.
func NewTransport(node string, hub *Hub, rdc *redis.Client) *Transport {
	t := &Transport{node: node, hub: hub}
	if rdc != nil {
		t.relay = newRelay(rdc, node, hub)
	}
	return t
}

func (t *Transport) local(node string) bool { return node == "" || node == t.node }

func (t *Transport) Push(ctx context.Context, node, connectionID string, data []byte) error {
	if t.local(node) {
		return t.hub.Push(ctx, connectionID, data)
	}
	if t.relay == nil {
		return fmt.Errorf("%s on node %s: %w", connectionID, node, chat.ErrGone)
	}
	n, err := t.relay.publish(ctx, node, relayFrame{ConnectionID: connectionID, Data: data})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: node %s not running: %w", connectionID, node, chat.ErrGone)
	}
	return nil
}

// Kick closes a connection wherever it is held.
func (t *Transport) Kick(ctx context.Context, node, connectionID, reason string) error {
	if t.local(node) {
		t.hub.Kick(connectionID, reason)
		return nil
	}
	if t.relay == nil {
		return nil
	}
	_, err := t.relay.publish(ctx, node, relayFrame{ConnectionID: connectionID, Kick: reason})
	return err
}

// Run starts the relay subscriber, if any, and blocks until ctx is done.
func (t *Transport) Run(ctx context.Context) {
	if t.relay == nil {
		<-ctx.Done()
		return
	}
	t.relay.Run(ctx)
}
