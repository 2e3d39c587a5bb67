package chat

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wschat/internal/protocol"
	"wschat/internal/registry"
)

const pruneTimeout = 2 * time.Second

// Broadcaster pushes delivery tasks to their targets concurrently. A target
// reported gone is pruned from the registry; transient push failures are
// retried per RetryPolicy and then dropped.
type Broadcaster struct {
	reg         registry.Registry
	pusher      Pusher
	retry       RetryPolicy
	concurrency int
}

// NewBroadcaster builds a Broadcaster. concurrency caps in-flight pushes per
// Deliver call; zero or less means unbounded.
func NewBroadcaster(reg registry.Registry, pusher Pusher, retry RetryPolicy, concurrency int) *Broadcaster {
	return &Broadcaster{
		reg:         reg,
		pusher:      pusher,
		retry:       retry,
		concurrency: concurrency,
	}
}

// Deliver returns once every task has a terminal outcome.
func (b *Broadcaster) Deliver(ctx context.Context, tasks []DeliveryTask) DeliveryReport {
	var report DeliveryReport
	if len(tasks) == 0 {
		return report
	}

	// a broadcast carries the same payload to every target: encode it once
	encoded := make(map[protocol.Notification][]byte, 1)
	for _, t := range tasks {
		if _, ok := encoded[t.Payload]; !ok {
			encoded[t.Payload] = protocol.Encode(t.Payload)
		}
	}

	outcomes := make([]Outcome, len(tasks))
	var g errgroup.Group
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}
	for i, task := range tasks {
		g.Go(func() error {
			outcomes[i] = b.push(ctx, task.Node, task.TargetConnectionID, encoded[task.Payload])
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	for i, o := range outcomes {
		report.add(tasks[i].TargetConnectionID, o)
	}
	return report
}

// push delivers data to one connection and classifies the result.
func (b *Broadcaster) push(ctx context.Context, node, target string, data []byte) Outcome {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := b.pusher.Push(ctx, node, target, data)
		if errors.Is(err, ErrGone) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, b.retry.options(func(err error, next time.Duration) {
		zap.L().Debug("chat.push_retry",
			zap.String("connection_id", target),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})...)

	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrGone):
		b.prune(ctx, target)
		return StaleTarget
	default:
		zap.L().Warn("chat.push_failed", zap.String("connection_id", target), zap.Error(err))
		return Failed
	}
}

// prune removes a dead connection. It outlives the caller's deadline so a
// timed-out broadcast still cleans up what it found.
func (b *Broadcaster) prune(ctx context.Context, target string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
	defer cancel()

	if err := b.reg.Remove(ctx, target); err != nil {
		zap.L().Warn("chat.prune_failed", zap.String("connection_id", target), zap.Error(err))
		return
	}
	zap.L().Info("chat.pruned_stale", zap.String("connection_id", target))
}
