package chat

import (
	"context"
	"fmt"

	"wschat/internal/protocol"
	"wschat/internal/registry"
)

// Router turns one inbound frame into the delivery tasks it causes.
type Router struct {
	reg   registry.Registry
	retry RetryPolicy
}

func NewRouter(reg registry.Registry, retry RetryPolicy) *Router {
	return &Router{reg: reg, retry: retry}
}

// Route decodes raw, applies its effect to the registry and returns one task
// per registered connection. On any error no task is returned.
func (r *Router) Route(ctx context.Context, connectionID string, raw []byte) ([]DeliveryTask, error) {
	action, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}

	var n protocol.Notification
	switch a := action.(type) {
	case protocol.SendMessage:
		sender, err := retryStore(ctx, r.retry, "get", func() (registry.ConnectionRecord, error) {
			return r.reg.Get(ctx, connectionID)
		})
		if err != nil {
			return nil, fmt.Errorf("send from %s: %w", connectionID, err)
		}
		n = protocol.UserMessage{From: sender.UserName, Text: a.Text}

	case protocol.RenameUser:
		err := retryStoreErr(ctx, r.retry, "rename", func() error {
			return r.reg.UpdateUserName(ctx, connectionID, a.UserName)
		})
		if err != nil {
			return nil, fmt.Errorf("rename %s: %w", connectionID, err)
		}
		n = protocol.UserNameChanged{UserName: a.UserName}

	default:
		return nil, fmt.Errorf("%w: unhandled action %q", protocol.ErrMalformedRequest, action.Kind())
	}

	return r.targets(ctx, n)
}

// targets snapshots the registry once. A failure part-way through discards
// the partial snapshot so a broadcast is never sent to a truncated set.
func (r *Router) targets(ctx context.Context, n protocol.Notification) ([]DeliveryTask, error) {
	return retryStore(ctx, r.retry, "list", func() ([]DeliveryTask, error) {
		var tasks []DeliveryTask
		for rec, err := range r.reg.ListAll(ctx) {
			if err != nil {
				return nil, fmt.Errorf("snapshot targets: %w", err)
			}
			tasks = append(tasks, DeliveryTask{
				Payload:            n,
				TargetConnectionID: rec.ConnectionID,
				Node:               rec.Node,
			})
		}
		return tasks, nil
	})
}
