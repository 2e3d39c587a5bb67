package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wschat/internal/registry"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}

var errFlaky = errors.New("write: broken pipe")

type pushCall struct {
	node   string
	target string
	data   string
}

// fakePusher records pushes. Per-target behaviour: gone targets return
// ErrGone, flaky targets fail the given number of times before succeeding.
type fakePusher struct {
	mu    sync.Mutex
	calls []pushCall
	gone  map[string]bool
	flaky map[string]int
}

func newFakePusher() *fakePusher {
	return &fakePusher{gone: map[string]bool{}, flaky: map[string]int{}}
}

func (p *fakePusher) Push(_ context.Context, node, target string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{node: node, target: target, data: string(data)})
	if p.gone[target] {
		return fmt.Errorf("push %s: %w", target, ErrGone)
	}
	if p.flaky[target] > 0 {
		p.flaky[target]--
		return errFlaky
	}
	return nil
}

// received returns the payloads successfully pushed to target.
func (p *fakePusher) received(target string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if c.target == target && !p.gone[target] {
			out = append(out, c.data)
		}
	}
	return out
}

func (p *fakePusher) attempts(target string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.target == target {
			n++
		}
	}
	return n
}

// flakyRegistry fails the first N calls of each kind with ErrStoreUnavailable.
type flakyRegistry struct {
	registry.Registry
	mu        sync.Mutex
	failures  map[string]int
	callCount map[string]int
}

func newFlakyRegistry(inner registry.Registry, failures map[string]int) *flakyRegistry {
	return &flakyRegistry{Registry: inner, failures: failures, callCount: map[string]int{}}
}

func (r *flakyRegistry) fail(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callCount[op]++
	if r.failures[op] > 0 {
		r.failures[op]--
		return fmt.Errorf("%s: %w: connection refused", op, registry.ErrStoreUnavailable)
	}
	return nil
}

func (r *flakyRegistry) calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callCount[op]
}

func (r *flakyRegistry) Insert(ctx context.Context, id, node string) error {
	if err := r.fail("insert"); err != nil {
		return err
	}
	return r.Registry.Insert(ctx, id, node)
}

func (r *flakyRegistry) Remove(ctx context.Context, id string) error {
	if err := r.fail("remove"); err != nil {
		return err
	}
	return r.Registry.Remove(ctx, id)
}

func (r *flakyRegistry) Get(ctx context.Context, id string) (registry.ConnectionRecord, error) {
	if err := r.fail("get"); err != nil {
		return registry.ConnectionRecord{}, err
	}
	return r.Registry.Get(ctx, id)
}
