package registry

import (
	"context"
	"iter"
	"sync"
	"time"
)

// memoryRegistry keeps records in process memory. It serves single-node
// deployments (REGISTRY_BACKEND=memory) and tests.
type memoryRegistry struct {
	records sync.Map // connectionID -> ConnectionRecord
	mu      sync.Mutex
	now     func() time.Time
}

var _ Registry = (*memoryRegistry)(nil)

func NewMemoryRegistry() Registry {
	return &memoryRegistry{now: time.Now}
}

func (r *memoryRegistry) Insert(_ context.Context, id, node string) error {
	r.records.Store(id, ConnectionRecord{
		ConnectionID: id,
		Node:         node,
		CreatedAt:    r.now().UTC(),
	})
	return nil
}

func (r *memoryRegistry) Remove(_ context.Context, id string) error {
	r.records.Delete(id)
	return nil
}

func (r *memoryRegistry) UpdateUserName(_ context.Context, id, userName string) error {
	// load+store must not interleave with another rename of the same id
	r.mu.Lock()
	defer r.mu.Unlock()

	// Insert and Remove do not take mu: reload until the swap lands on the
	// current record or the record is gone.
	for {
		v, ok := r.records.Load(id)
		if !ok {
			return notFound(id)
		}
		rec := v.(ConnectionRecord)
		rec.UserName = userName
		if r.records.CompareAndSwap(id, v, rec) {
			return nil
		}
	}
}

func (r *memoryRegistry) Get(_ context.Context, id string) (ConnectionRecord, error) {
	v, ok := r.records.Load(id)
	if !ok {
		return ConnectionRecord{}, notFound(id)
	}
	return v.(ConnectionRecord), nil
}

func (r *memoryRegistry) ListAll(ctx context.Context) iter.Seq2[ConnectionRecord, error] {
	return func(yield func(ConnectionRecord, error) bool) {
		r.records.Range(func(_, v any) bool {
			if err := ctx.Err(); err != nil {
				yield(ConnectionRecord{}, err)
				return false
			}
			return yield(v.(ConnectionRecord), nil)
		})
	}
}

func (r *memoryRegistry) RemoveNode(_ context.Context, node string) (int, error) {
	n := 0
	r.records.Range(func(k, v any) bool {
		// a concurrent re-insert replaces v and survives the reap
		if v.(ConnectionRecord).Node == node && r.records.CompareAndDelete(k, v) {
			n++
		}
		return true
	})
	return n, nil
}
