package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wschat/internal/protocol"
	"wschat/internal/registry"
)

func broadcastTasks(n protocol.Notification, targets ...string) []DeliveryTask {
	tasks := make([]DeliveryTask, 0, len(targets))
	for _, id := range targets {
		tasks = append(tasks, DeliveryTask{Payload: n, TargetConnectionID: id, Node: "n1"})
	}
	return tasks
}

func TestBroadcaster_PartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	reg := seedRegistry(t, "A", "B", "C")
	pusher := newFakePusher()
	pusher.gone["B"] = true
	b := NewBroadcaster(reg, pusher, fastRetry, 0)

	report := b.Deliver(ctx, broadcastTasks(protocol.UserMessage{From: "Alice", Text: "hi"}, "A", "B", "C"))

	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, Delivered, report.Outcomes["A"])
	assert.Equal(t, StaleTarget, report.Outcomes["B"])
	assert.Equal(t, Delivered, report.Outcomes["C"])

	_, err := reg.Get(ctx, "B")
	assert.ErrorIs(t, err, registry.ErrNotFound, "stale target is pruned")
	assert.Equal(t, 1, pusher.attempts("B"), "gone is not retried")

	for _, id := range []string{"A", "C"} {
		assert.Equal(t, []string{`{"Action":"message","From":"Alice","Text":"hi"}`}, pusher.received(id))
	}
}

func TestBroadcaster_TransientRetry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantOutcome  Outcome
		wantAttempts int
	}{
		{name: "recovers on second attempt", failures: 1, wantOutcome: Delivered, wantAttempts: 2},
		{name: "recovers on last attempt", failures: 2, wantOutcome: Delivered, wantAttempts: 3},
		{name: "exhausts attempts", failures: 5, wantOutcome: Failed, wantAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			reg := seedRegistry(t, "A", "B")
			pusher := newFakePusher()
			pusher.flaky["B"] = tt.failures
			b := NewBroadcaster(reg, pusher, fastRetry, 0)

			report := b.Deliver(ctx, broadcastTasks(protocol.UserNameChanged{UserName: "x"}, "A", "B"))

			assert.Equal(t, Delivered, report.Outcomes["A"])
			assert.Equal(t, tt.wantOutcome, report.Outcomes["B"])
			assert.Equal(t, tt.wantAttempts, pusher.attempts("B"))
			assert.Equal(t, 1, pusher.attempts("A"))
			assert.Equal(t, 2, report.Total())

			// failed targets are dropped, not pruned
			_, err := reg.Get(ctx, "B")
			assert.NoError(t, err)
		})
	}
}

func TestBroadcaster_BoundedConcurrency(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	reg := seedRegistry(t, ids...)
	pusher := newFakePusher()
	b := NewBroadcaster(reg, pusher, fastRetry, 2)

	report := b.Deliver(context.Background(), broadcastTasks(protocol.UserMessage{Text: "x"}, ids...))

	assert.Equal(t, len(ids), report.Delivered)
	for _, id := range ids {
		assert.Equal(t, 1, pusher.attempts(id))
	}
}

func TestBroadcaster_NoTasks(t *testing.T) {
	b := NewBroadcaster(registry.NewMemoryRegistry(), newFakePusher(), fastRetry, 0)
	report := b.Deliver(context.Background(), nil)
	assert.Zero(t, report.Total())
}

func TestBroadcaster_CancelledContext(t *testing.T) {
	reg := seedRegistry(t, "A")
	pusher := newFakePusher()
	pusher.flaky["A"] = 10
	b := NewBroadcaster(reg, pusher, RetryPolicy{MaxAttempts: 5, InitialBackoff: 0}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := b.Deliver(ctx, broadcastTasks(protocol.UserMessage{Text: "x"}, "A"))
	require.Equal(t, 1, report.Total())
	assert.Equal(t, Failed, report.Outcomes["A"])
	assert.Equal(t, 1, pusher.attempts("A"), "a cancelled broadcast is not retried")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "stale", StaleTarget.String())
	assert.Equal(t, "failed", Failed.String())
}

// gatedPusher holds pushes to the targets in hold (or all of them when hold
// contains "*") until release is closed, and tracks how many run at once.
type gatedPusher struct {
	mu       sync.Mutex
	hold     map[string]bool
	release  chan struct{}
	inflight int
	peak     int
	pushed   map[string]bool
}

func newGatedPusher(hold ...string) *gatedPusher {
	p := &gatedPusher{hold: map[string]bool{}, release: make(chan struct{}), pushed: map[string]bool{}}
	for _, id := range hold {
		p.hold[id] = true
	}
	return p
}

func (p *gatedPusher) Push(_ context.Context, _, target string, _ []byte) error {
	p.mu.Lock()
	p.inflight++
	p.peak = max(p.peak, p.inflight)
	held := p.hold[target] || p.hold["*"]
	p.mu.Unlock()

	if held {
		<-p.release
	}

	p.mu.Lock()
	p.inflight--
	p.pushed[target] = true
	p.mu.Unlock()
	return nil
}

func (p *gatedPusher) state() (inflight, peak int, pushed map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make(map[string]bool, len(p.pushed))
	for k, v := range p.pushed {
		cp[k] = v
	}
	return p.inflight, p.peak, cp
}

func TestBroadcaster_BlockedTargetDoesNotDelayOthers(t *testing.T) {
	reg := seedRegistry(t, "A", "B", "C")
	pusher := newGatedPusher("B")
	b := NewBroadcaster(reg, pusher, fastRetry, 0)

	done := make(chan DeliveryReport, 1)
	go func() {
		done <- b.Deliver(context.Background(), broadcastTasks(protocol.UserMessage{Text: "x"}, "A", "B", "C"))
	}()

	require.Eventually(t, func() bool {
		_, _, pushed := pusher.state()
		return pushed["A"] && pushed["C"]
	}, time.Second, 5*time.Millisecond, "A and C are pushed while B is stuck")

	select {
	case <-done:
		t.Fatal("Deliver returned before every target reached an outcome")
	case <-time.After(20 * time.Millisecond):
	}

	close(pusher.release)
	report := <-done
	assert.Equal(t, 3, report.Delivered)
	assert.Equal(t, Delivered, report.Outcomes["A"])
	assert.Equal(t, Delivered, report.Outcomes["B"])
	assert.Equal(t, Delivered, report.Outcomes["C"])
}

func TestBroadcaster_LimitCapsInFlightPushes(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	reg := seedRegistry(t, ids...)
	pusher := newGatedPusher("*")
	b := NewBroadcaster(reg, pusher, fastRetry, 2)

	done := make(chan DeliveryReport, 1)
	go func() {
		done <- b.Deliver(context.Background(), broadcastTasks(protocol.UserMessage{Text: "x"}, ids...))
	}()

	require.Eventually(t, func() bool {
		inflight, _, _ := pusher.state()
		return inflight == 2
	}, time.Second, 5*time.Millisecond)

	// give a third push the chance to start if the limit leaked
	time.Sleep(20 * time.Millisecond)
	_, peak, _ := pusher.state()
	assert.Equal(t, 2, peak)

	close(pusher.release)
	report := <-done
	assert.Equal(t, len(ids), report.Delivered)
	_, peak, _ = pusher.state()
	assert.Equal(t, 2, peak, "never more than the limit in flight")
}
