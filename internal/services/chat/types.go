package chat

import (
	"context"
	"errors"

	"wschat/internal/protocol"
)

// ErrGone is returned by a Pusher when the target connection no longer exists
// at the transport level.
var ErrGone = errors.New("connection gone")

// Pusher is the transport's per-connection push primitive. node is the id of
// the server process holding the socket (empty means "this process").
// Push returns nil on delivery, ErrGone for a dead target and any other error
// for a failure worth retrying.
type Pusher interface {
	Push(ctx context.Context, node, connectionID string, data []byte) error
}

// DeliveryTask is one (notification, target) pair.
type DeliveryTask struct {
	Payload            protocol.Notification
	TargetConnectionID string
	// Node is copied from the target's registry record at snapshot time.
	Node string
}

type Outcome int

const (
	Delivered Outcome = iota
	StaleTarget
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case StaleTarget:
		return "stale"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// DeliveryReport summarises one Deliver call. It is informational only.
type DeliveryReport struct {
	Delivered int                `json:"delivered"`
	Stale     int                `json:"stale"`
	Failed    int                `json:"failed"`
	Outcomes  map[string]Outcome `json:"-"` // target connection id -> outcome
}

func (r *DeliveryReport) add(target string, o Outcome) {
	if r.Outcomes == nil {
		r.Outcomes = make(map[string]Outcome)
	}
	r.Outcomes[target] = o
	switch o {
	case Delivered:
		r.Delivered++
	case StaleTarget:
		r.Stale++
	default:
		r.Failed++
	}
}

// Total is the number of tasks that reached a terminal outcome.
func (r DeliveryReport) Total() int { return r.Delivered + r.Stale + r.Failed }
