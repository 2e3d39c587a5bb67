package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wschat/internal/protocol"
	"wschat/internal/registry"
)

type Options struct {
	Node              string
	Push              RetryPolicy
	Store             RetryPolicy
	FanoutConcurrency int
}

type IChatService interface {
	OnConnect(ctx context.Context, connectionID string) error
	OnDisconnect(ctx context.Context, connectionID string) error
	// OnMessage routes and delivers one client frame. Failures are logged,
	// never returned: the sender has no one to report them to.
	OnMessage(ctx context.Context, connectionID string, raw []byte) DeliveryReport
	// PushTo delivers a raw payload to a single registered connection.
	PushTo(ctx context.Context, connectionID string, data []byte) (Outcome, error)
}

type chatService struct {
	reg         registry.Registry
	lifecycle   *Lifecycle
	router      *Router
	broadcaster *Broadcaster
	store       RetryPolicy
}

var _ IChatService = (*chatService)(nil)

func NewChatService(reg registry.Registry, pusher Pusher, opts Options) IChatService {
	return &chatService{
		reg:         reg,
		lifecycle:   NewLifecycle(reg, opts.Node, opts.Store),
		router:      NewRouter(reg, opts.Store),
		broadcaster: NewBroadcaster(reg, pusher, opts.Push, opts.FanoutConcurrency),
		store:       opts.Store,
	}
}

func (svc *chatService) OnConnect(ctx context.Context, connectionID string) error {
	return svc.lifecycle.OnConnect(ctx, connectionID)
}

func (svc *chatService) OnDisconnect(ctx context.Context, connectionID string) error {
	return svc.lifecycle.OnDisconnect(ctx, connectionID)
}

func (svc *chatService) OnMessage(ctx context.Context, connectionID string, raw []byte) DeliveryReport {
	tasks, err := svc.router.Route(ctx, connectionID, raw)
	if err != nil {
		fields := []zap.Field{zap.String("connection_id", connectionID), zap.Error(err)}
		switch {
		case errors.Is(err, protocol.ErrMalformedRequest):
			zap.L().Info("chat.malformed_request", fields...)
		case errors.Is(err, registry.ErrNotFound):
			zap.L().Warn("chat.unknown_sender", fields...)
		default:
			zap.L().Error("chat.route_failed", fields...)
		}
		return DeliveryReport{}
	}

	start := time.Now()
	report := svc.broadcaster.Deliver(ctx, tasks)
	zap.L().Debug("chat.broadcast",
		zap.String("connection_id", connectionID),
		zap.Int("targets", len(tasks)),
		zap.Int("delivered", report.Delivered),
		zap.Int("stale", report.Stale),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return report
}

func (svc *chatService) PushTo(ctx context.Context, connectionID string, data []byte) (Outcome, error) {
	rec, err := retryStore(ctx, svc.store, "get", func() (registry.ConnectionRecord, error) {
		return svc.reg.Get(ctx, connectionID)
	})
	if err != nil {
		return Failed, fmt.Errorf("push to %s: %w", connectionID, err)
	}
	return svc.broadcaster.push(ctx, rec.Node, connectionID, data), nil
}
