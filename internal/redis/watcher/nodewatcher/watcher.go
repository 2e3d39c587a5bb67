package nodewatcher

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wschat/internal/heartbeat"
	"wschat/internal/registry"
)

const reapTimeout = 10 * time.Second

// Run listens to key-expiry events and reaps the connections of nodes whose
// heartbeat lapsed. Every node runs a watcher; RemoveNode is idempotent so
// concurrent reaps of the same node are harmless.
func Run(ctx context.Context, rdb *redis.Client, reg registry.Registry) {
	if err := rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		// managed Redis often forbids CONFIG; the setting may already be on
		zap.L().Warn("nodewatcher.config_set", zap.Error(err))
	}
	ps := rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	defer ps.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			node, ok := expiredNode(m.Payload)
			if !ok {
				continue
			}
			reap(ctx, reg, node)
		}
	}
}

func expiredNode(key string) (string, bool) {
	node, ok := strings.CutPrefix(key, heartbeat.KeyPrefix)
	if !ok || node == "" {
		return "", false
	}
	return node, true
}

func reap(ctx context.Context, reg registry.Registry, node string) {
	ctx, cancel := context.WithTimeout(ctx, reapTimeout)
	defer cancel()

	n, err := reg.RemoveNode(ctx, node)
	if err != nil {
		zap.L().Error("nodewatcher.reap_failed", zap.String("node", node), zap.Error(err))
		return
	}
	zap.L().Info("nodewatcher.reaped", zap.String("node", node), zap.Int("connections", n))
}
