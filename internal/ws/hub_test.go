package ws

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wschat/internal/services/chat"
)

func TestHub_PushUnknownIsGone(t *testing.T) {
	h := NewHub()
	err := h.Push(context.Background(), "nobody", []byte("x"))
	assert.ErrorIs(t, err, chat.ErrGone)
}

func TestHub_PushFailedHandshakeIsGone(t *testing.T) {
	h := NewHub()
	c := newClientConn("c1")
	h.join(c)
	require.Equal(t, 1, h.Len())

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.attach(nil)
	}()

	err := h.Push(context.Background(), "c1", []byte("x"))
	assert.ErrorIs(t, err, chat.ErrGone)
	assert.Equal(t, 0, h.Len())
}

func TestHub_PushPendingTimesOut(t *testing.T) {
	h := NewHub()
	h.join(newClientConn("c1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := h.Push(ctx, "c1", []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, chat.ErrGone, "a pending handshake is retried, not pruned")
	assert.Equal(t, 1, h.Len())
}

func TestHub_LeaveIgnoresReplacedConn(t *testing.T) {
	h := NewHub()
	old := newClientConn("c1")
	h.join(old)
	h.join(newClientConn("c1"))
	h.leave(old)

	_, ok := h.get("c1")
	assert.True(t, ok)
	assert.Equal(t, 1, h.Len())
}

func TestTransport_RemoteWithoutRelayIsGone(t *testing.T) {
	tr := NewTransport("n1", NewHub(), nil)
	err := tr.Push(context.Background(), "n2", "c1", []byte("x"))
	assert.ErrorIs(t, err, chat.ErrGone)
}

func TestTransport_RelaysToOtherNode(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	tr := NewTransport("n1", NewHub(), rdc)

	mock.ExpectPublish("chat:push:n2", []byte(`{"cid":"c1","data":"aGk="}`)).SetVal(1)
	mock.ExpectPublish("chat:push:n3", []byte(`{"cid":"c2","data":"aGk="}`)).SetVal(0)

	require.NoError(t, tr.Push(context.Background(), "n2", "c1", []byte("hi")))
	assert.ErrorIs(t, tr.Push(context.Background(), "n3", "c2", []byte("hi")), chat.ErrGone, "no subscriber: node is dead")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransport_KickRelayed(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	tr := NewTransport("n1", NewHub(), rdc)

	mock.ExpectPublish("chat:push:n2", []byte(`{"cid":"c1","kick":"bye"}`)).SetVal(1)

	require.NoError(t, tr.Kick(context.Background(), "n2", "c1", "bye"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_HandleIgnoresBadFrames(t *testing.T) {
	r := newRelay(nil, "n1", NewHub())
	assert.NotPanics(t, func() {
		r.handle(context.Background(), []byte("not json"))
		r.handle(context.Background(), []byte(`{"cid":"nobody","data":"aGk="}`))
		r.handle(context.Background(), []byte(`{"cid":"nobody","kick":"bye"}`))
	})
}

func (r *relay) queued(id string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	return len(q), ok
}

func TestRelay_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	h := NewHub()
	slow := newClientConn("slow")
	h.join(slow)
	defer slow.attach(nil) // releases the stuck write

	dead := newClientConn("dead")
	h.join(dead)
	dead.attach(nil)

	r := newRelay(nil, "n1", h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the write to "slow" waits on a handshake that never completes
	r.handle(ctx, []byte(`{"cid":"slow","data":"aGk="}`))
	r.handle(ctx, []byte(`{"cid":"dead","data":"aGk="}`))

	assert.Eventually(t, func() bool {
		_, held := h.get("dead")
		return !held
	}, time.Second, 5*time.Millisecond, "frame for another connection must not wait behind the slow one")

	_, held := h.get("slow")
	assert.True(t, held)
}

func TestRelay_FramesForOneConnectionStayOrdered(t *testing.T) {
	h := NewHub()
	c := newClientConn("c1")
	h.join(c)

	r := newRelay(nil, "n1", h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for range 3 {
		r.handle(ctx, []byte(`{"cid":"c1","data":"aGk="}`))
	}

	// one drainer holds the first frame; the rest wait their turn
	assert.Eventually(t, func() bool {
		n, _ := r.queued("c1")
		return n == 2
	}, time.Second, 5*time.Millisecond)

	c.attach(nil)
	assert.Eventually(t, func() bool {
		_, draining := r.queued("c1")
		return !draining
	}, time.Second, 5*time.Millisecond, "queue is dropped once drained")
}
