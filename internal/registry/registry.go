package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

var (
	ErrNotFound         = errors.New("connection not found")
	ErrStoreUnavailable = errors.New("registry store unavailable")
)

// ConnectionRecord is the registry's view of one open websocket connection.
type ConnectionRecord struct {
	ConnectionID string    `json:"connection_id"`
	UserName     string    `json:"user_name"`
	Node         string    `json:"node,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Registry is the durable directory of open connections. Every operation
// touches a single key and is atomic in the backing store.
type Registry interface {
	// Insert creates (or overwrites) the record for id, owned by node.
	Insert(ctx context.Context, id, node string) error
	// Remove deletes the record for id. Removing an absent id is not an error.
	Remove(ctx context.Context, id string) error
	UpdateUserName(ctx context.Context, id, userName string) error
	Get(ctx context.Context, id string) (ConnectionRecord, error)
	// ListAll enumerates the current records lazily. Every range over the
	// returned sequence starts a fresh enumeration; records added or removed
	// while it runs may or may not be yielded.
	ListAll(ctx context.Context) iter.Seq2[ConnectionRecord, error]
	// RemoveNode deletes every record owned by node and reports how many
	// were removed.
	RemoveNode(ctx context.Context, node string) (int, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
