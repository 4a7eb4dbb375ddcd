package client

import (
	"fmt"
	"testing"

	"github.com/nexbid/relay-server/internal/proto"
)

func queuedEnvelope(t *testing.T, n int) *proto.Envelope {
	t.Helper()

	env, err := proto.New(proto.TypeCollaboration, map[string]int{"seq": n}, "rfq-1")
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func TestQueueDrainsFIFO(t *testing.T) {
	q := newSendQueue(10)

	var ids []string
	for i := range 3 {
		env := queuedEnvelope(t, i)
		ids = append(ids, env.MessageID)
		q.push(env)
	}

	drained := q.drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(drained))
	}
	for i, env := range drained {
		if env.MessageID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], env.MessageID)
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue not empty after drain: %d", q.len())
	}
	if q.drain() != nil {
		t.Fatal("second drain must return nothing")
	}
}

func TestQueueEvictsOldestAtLimit(t *testing.T) {
	q := newSendQueue(3)

	for i := range 3 {
		if q.push(queuedEnvelope(t, i)) {
			t.Fatalf("push %d under the limit must not evict", i)
		}
	}
	if !q.push(queuedEnvelope(t, 3)) {
		t.Fatal("push over the limit must evict")
	}

	drained := q.drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 envelopes after eviction, got %d", len(drained))
	}
	// Envelope 0 was the oldest; 1..3 remain.
	var first struct {
		Seq int `json:"seq"`
	}
	if err := drained[0].DecodePayload(&first); err != nil || first.Seq != 1 {
		t.Fatalf("oldest envelope not evicted: %+v (%v)", first, err)
	}
	if q.droppedCount() != 1 {
		t.Fatalf("expected 1 drop recorded, got %d", q.droppedCount())
	}
}

func TestQueueRequeueRestoresOrderAtFront(t *testing.T) {
	q := newSendQueue(10)

	var ids []string
	for i := range 5 {
		env := queuedEnvelope(t, i)
		ids = append(ids, env.MessageID)
		q.push(env)
	}

	drained := q.drain()
	q.requeue(drained[2:])
	q.push(queuedEnvelope(t, 5))

	got := q.drain()
	if len(got) != 4 {
		t.Fatalf("expected 4 envelopes, got %d", len(got))
	}
	for i, want := range ids[2:] {
		if got[i].MessageID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].MessageID)
		}
	}
}

func TestQueueClear(t *testing.T) {
	q := newSendQueue(10)
	for i := range 5 {
		q.push(queuedEnvelope(t, i))
	}
	q.clear()
	if q.len() != 0 {
		t.Fatalf("queue not empty after clear: %d", q.len())
	}
}

func TestQueueDefaultLimit(t *testing.T) {
	q := newSendQueue(0)
	if q.limit != DefaultQueueLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultQueueLimit, q.limit)
	}
}

func BenchmarkQueuePushDrain(b *testing.B) {
	q := newSendQueue(DefaultQueueLimit)
	env, _ := proto.New(proto.TypeCollaboration, nil, "bench")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for range 100 {
			q.push(env)
		}
		q.drain()
	}
	_ = fmt.Sprint(q.len())
}
