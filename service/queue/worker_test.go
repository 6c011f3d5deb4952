package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	errs "CProject/tools/errs"
)

// memStore is an in-process Store for tests.
type memStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

func newMemStore() *memStore {
	return &memStore{lists: make(map[string][][]byte)}
}

func (s *memStore) Push(_ context.Context, name string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[name] = append([][]byte{raw}, s.lists[name]...)
	return nil
}

func (s *memStore) PopBatch(_ context.Context, name string, n int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[name]
	if len(l) == 0 {
		return nil, nil
	}
	if n > len(l) {
		n = len(l)
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, l[len(l)-1-i])
	}
	s.lists[name] = l[:len(l)-n]
	return out, nil
}

func (s *memStore) BPop(ctx context.Context, name string, _ time.Duration) ([]byte, error) {
	got, err := s.PopBatch(ctx, name, 1)
	if err != nil || len(got) == 0 {
		return nil, err
	}
	return got[0], nil
}

func (s *memStore) Len(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[name])), nil
}

func mustEnvelope(t *testing.T, kind Kind) *Envelope {
	t.Helper()
	e, err := NewEnvelope(kind, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return e
}

func TestQueueFIFO(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, _ := NewEnvelope(KindNewMessage, map[string]int{"seq": i})
		if err := q.Push(ctx, QueueMessage, e); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	batch, err := store.PopBatch(ctx, QueueMessage, 10)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("want 3 items, got %d", len(batch))
	}
	for i, raw := range batch {
		e, err := DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		var p map[string]int
		if err := e.Decode(&p); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if p["seq"] != i {
			t.Errorf("item %d out of order: seq=%d", i, p["seq"])
		}
	}
}

func TestWorkerTransientRequeueAndExhaustion(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx := context.Background()

	e := mustEnvelope(t, KindNewMessage)
	raw, _ := e.Encode()
	if err := store.Push(ctx, QueueMessage, raw); err != nil {
		t.Fatal(err)
	}

	var calls int
	w := NewWorker("t", QueueMessage, q, func(context.Context, *Envelope) error {
		calls++
		return errs.ErrTransientInfra.WrapMsg("redis gone")
	}, WorkerConf{MaxAttempts: 2, RetryDelay: 10 * time.Millisecond, PopTimeout: 10 * time.Millisecond})

	// Apply directly, twice: first is a re-queue, second dead-letters.
	w.applyOne(ctx, raw)
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	time.Sleep(50 * time.Millisecond) // delayed re-push lands

	requeued, _ := store.BPop(ctx, QueueMessage, 0)
	if requeued == nil {
		t.Fatal("transient failure did not re-queue")
	}
	re, _ := DecodeEnvelope(requeued)
	if re.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", re.Attempts)
	}

	w.applyOne(ctx, requeued)
	n, _ := store.Len(ctx, QueueDead)
	if n != 1 {
		t.Fatalf("dead-letter len = %d, want 1", n)
	}
	dead, _ := store.BPop(ctx, QueueDead, 0)
	de, _ := DecodeEnvelope(dead)
	if de.Reason == "" {
		t.Error("dead letter missing reason")
	}
}

func TestWorkerLogicalFailureSkips(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx := context.Background()

	e := mustEnvelope(t, KindReadReceipt)
	raw, _ := e.Encode()

	w := NewWorker("t", QueueRead, q, func(context.Context, *Envelope) error {
		return errors.New("sender not in conversation")
	}, WorkerConf{})

	w.applyOne(ctx, raw)

	if n, _ := store.Len(ctx, QueueRead); n != 0 {
		t.Errorf("logical failure re-queued, len=%d", n)
	}
	if n, _ := store.Len(ctx, QueueDead); n != 0 {
		t.Errorf("logical failure dead-lettered, len=%d", n)
	}
}

func TestWorkerDropsUndecodable(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx := context.Background()

	w := NewWorker("t", QueueMessage, q, func(context.Context, *Envelope) error {
		t.Fatal("handler must not run for garbage")
		return nil
	}, WorkerConf{})

	w.applyOne(ctx, []byte("{not json"))
	if n, _ := store.Len(ctx, QueueDead); n != 0 {
		t.Errorf("garbage dead-lettered, len=%d", n)
	}
}

func TestWorkerRunDrainsAndStops(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		e := mustEnvelope(t, KindDeliveryReceipt)
		_ = q.Push(ctx, QueueDelivery, e)
	}

	var mu sync.Mutex
	seen := 0
	w := NewWorker("t", QueueDelivery, q, func(context.Context, *Envelope) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	}, WorkerConf{BatchSize: 2, PopTimeout: 10 * time.Millisecond})

	go w.Run(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := seen == 5
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()

	if seen != 5 {
		t.Fatalf("drained %d of 5", seen)
	}
}
