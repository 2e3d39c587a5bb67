package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wschat/internal/registry"
)

// Lifecycle registers and deregisters connections. Neither event notifies
// other clients.
type Lifecycle struct {
	reg   registry.Registry
	node  string
	retry RetryPolicy
}

func NewLifecycle(reg registry.Registry, node string, retry RetryPolicy) *Lifecycle {
	return &Lifecycle{reg: reg, node: node, retry: retry}
}

func (l *Lifecycle) OnConnect(ctx context.Context, connectionID string) error {
	err := retryStoreErr(ctx, l.retry, "insert", func() error {
		return l.reg.Insert(ctx, connectionID, l.node)
	})
	if err != nil {
		zap.L().Error("chat.connect_failed", zap.String("connection_id", connectionID), zap.Error(err))
		return fmt.Errorf("connect %s: %w", connectionID, err)
	}
	zap.L().Info("chat.connected", zap.String("connection_id", connectionID), zap.String("node", l.node))
	return nil
}

func (l *Lifecycle) OnDisconnect(ctx context.Context, connectionID string) error {
	err := retryStoreErr(ctx, l.retry, "remove", func() error {
		return l.reg.Remove(ctx, connectionID)
	})
	if err != nil {
		zap.L().Error("chat.disconnect_failed", zap.String("connection_id", connectionID), zap.Error(err))
		return fmt.Errorf("disconnect %s: %w", connectionID, err)
	}
	zap.L().Info("chat.disconnected", zap.String("connection_id", connectionID))
	return nil
}
