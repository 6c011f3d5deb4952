package offline

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

// fakeLists is an in-memory list store; index 0 is the head, like redis.
type fakeLists struct {
	mu   sync.Mutex
	data map[string][]string
}

func newFakeLists() *fakeLists {
	return &fakeLists{data: make(map[string][]string)}
}

func (f *fakeLists) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		s := ""
		switch t := v.(type) {
		case []byte:
			s = string(t)
		case string:
			s = t
		}
		f.data[key] = append([]string{s}, f.data[key]...)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.data[key])))
	return cmd
}

func (f *fakeLists) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.data[key]
	if start < 0 {
		start = 0
	}
	if stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	if start > stop {
		delete(f.data, key)
	} else {
		f.data[key] = l[start : stop+1]
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeLists) RPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringSliceCmd(ctx)
	l := f.data[key]
	if len(l) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	if count > len(l) {
		count = len(l)
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, l[len(l)-1-i])
	}
	f.data[key] = l[:len(l)-count]
	if len(f.data[key]) == 0 {
		delete(f.data, key)
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeLists) LLen(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.data[key])))
	return cmd
}

func newTestRouter(maxLen int64) (*Router, *fakeLists) {
	f := newFakeLists()
	return &Router{rdb: f, maxLen: maxLen}, f
}

func TestDrainFIFO(t *testing.T) {
	r, _ := newTestRouter(100)
	ctx := context.Background()

	for _, p := range []string{"one", "two", "three"} {
		if err := r.Enqueue(ctx, "alice", "bob", []byte(p)); err != nil {
			t.Fatalf("Enqueue %s: %v", p, err)
		}
	}

	msgs, err := r.Drain(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three"}
	if len(msgs) != len(want) {
		t.Fatalf("drained %d messages, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if string(m.Payload) != want[i] {
			t.Errorf("msg %d = %s, want %s", i, m.Payload, want[i])
		}
	}

	if msgs, _ := r.Drain(ctx, "alice", 10); len(msgs) != 0 {
		t.Fatalf("second drain returned %d messages", len(msgs))
	}
}

func TestDrainSurvivesConcurrentEnqueue(t *testing.T) {
	r, _ := newTestRouter(100)
	ctx := context.Background()

	for _, p := range []string{"m1", "m2", "m3"} {
		_ = r.Enqueue(ctx, "alice", "bob", []byte(p))
	}

	// Partial drain, then a fan-out worker enqueues mid-replay. The entry
	// still in the list must come out on the next pass, in order.
	first, err := r.Drain(ctx, "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Enqueue(ctx, "alice", "carol", []byte("m4"))

	rest, err := r.Drain(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range append(first, rest...) {
		got = append(got, string(m.Payload))
	}
	want := []string{"m1", "m2", "m3", "m4"}
	if len(got) != len(want) {
		t.Fatalf("replay = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replay = %v, want %v", got, want)
		}
	}
}

func TestEnqueueBoundDropsOldest(t *testing.T) {
	r, _ := newTestRouter(3)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c", "d"} {
		_ = r.Enqueue(ctx, "alice", "bob", []byte(p))
	}
	if n, _ := r.Pending(ctx, "alice"); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}
	msgs, _ := r.Drain(ctx, "alice", 10)
	if len(msgs) != 3 || string(msgs[0].Payload) != "b" {
		t.Fatalf("oldest surviving entry = %v", msgs)
	}
}
