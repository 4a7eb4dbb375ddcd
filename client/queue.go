package client

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/nexbid/relay-server/internal/proto"
)

// DefaultQueueLimit bounds the offline queue. The observed need is a few
// dozen envelopes across a typical outage; 1000 leaves headroom without
// letting a long outage grow memory without bound.
const DefaultQueueLimit = 1000

// sendQueue buffers envelopes composed while the connection is down. FIFO
// with oldest-first eviction at the limit; drained once per successful
// (re)connect; discarded on intentional disconnect.
type sendQueue struct {
	mu      sync.Mutex
	items   deque.Deque[*proto.Envelope]
	limit   int
	dropped uint64
}

func newSendQueue(limit int) *sendQueue {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return &sendQueue{limit: limit}
}

// push appends an envelope, evicting the oldest when full. Returns true
// when an eviction happened.
func (q *sendQueue) push(env *proto.Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.items.Len() >= q.limit {
		q.items.PopFront()
		q.dropped++
		evicted = true
	}
	q.items.PushBack(env)
	return evicted
}

// drain removes and returns every queued envelope in FIFO order.
func (q *sendQueue) drain() []*proto.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return nil
	}
	out := make([]*proto.Envelope, 0, q.items.Len())
	for q.items.Len() > 0 {
		out = append(out, q.items.PopFront())
	}
	return out
}

// requeue puts envelopes back at the front in their original order, for
// flush remainders whose send attempt never happened.
func (q *sendQueue) requeue(envs []*proto.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := len(envs) - 1; i >= 0; i-- {
		q.items.PushFront(envs[i])
	}
	for q.items.Len() > q.limit {
		q.items.PopFront()
		q.dropped++
	}
}

// clear discards the queue contents.
func (q *sendQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Clear()
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *sendQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
