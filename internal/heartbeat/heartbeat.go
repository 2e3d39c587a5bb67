package heartbeat

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	KeyPrefix   = "chat:nodehb:"
	beatTimeout = 1500 * time.Millisecond
)

func Key(node string) string { return KeyPrefix + node }

// Run refreshes this node's heartbeat key every interval with the given ttl.
// When the process dies the key expires and the node watcher reaps its
// connections. The first beat is sent before Run returns.
func Run(ctx context.Context, rdc *redis.Client, node string, interval, ttl time.Duration) {
	beatOnce(ctx, rdc, node, ttl)

	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				beatOnce(ctx, rdc, node, ttl)
			}
		}
	}()
}

// Stop removes the heartbeat key. A deleted key raises no expiry event, so
// the caller reaps its own connections on clean shutdown.
func Stop(ctx context.Context, rdc *redis.Client, node string) error {
	return rdc.Del(ctx, Key(node)).Err()
}

func beatOnce(ctx context.Context, rdc *redis.Client, node string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, beatTimeout)
	defer cancel()

	if err := rdc.Set(ctx, Key(node), node, ttl).Err(); err != nil {
		zap.L().Warn("heartbeat.set", zap.String("node", node), zap.Error(err))
	}
}
