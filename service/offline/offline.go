package offline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Per-user offline queue: one Redis list per user, LPUSH + LTRIM as a rolling
// window so an absent user cannot grow the store without bound. Drain reads
// from the tail so replay preserves original enqueue order.

type Msg struct {
	From       string `json:"from"`
	Payload    []byte `json:"payload"`
	EnqueuedAt int64  `json:"enqueued_at"` // unix ms
}

// lists is the slice of the redis client the router uses, cut so tests can
// run against an in-memory list.
type lists interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	RPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

type Router struct {
	rdb    lists
	maxLen int64
}

func NewRouter(rdb *redis.Client, maxLen int64) *Router {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Router{rdb: rdb, maxLen: maxLen}
}

func offlineKey(user string) string { return "im:offline:" + user }

// Enqueue stores a payload for replay on reconnect. The trim keeps the newest
// maxLen entries; it is a bound, not a correctness step, so it need not be
// atomic with the push.
func (r *Router) Enqueue(ctx context.Context, user, from string, payload []byte) error {
	b, err := json.Marshal(Msg{From: from, Payload: payload, EnqueuedAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	if err := r.rdb.LPush(ctx, offlineKey(user), b).Err(); err != nil {
		return err
	}
	return r.rdb.LTrim(ctx, offlineKey(user), 0, r.maxLen-1).Err()
}

// Drain pops up to n messages in original enqueue order. Callers loop until
// the returned slice is empty. The pop is a single RPOP so a concurrent
// Enqueue cannot shift entries out from under it.
func (r *Router) Drain(ctx context.Context, user string, n int) ([]Msg, error) {
	if n <= 0 {
		n = 100
	}
	// Oldest entries sit at the tail; RPOP order is already FIFO.
	vals, err := r.rdb.RPopCount(ctx, offlineKey(user), n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Msg, 0, len(vals))
	for _, v := range vals {
		var m Msg
		if uerr := json.Unmarshal([]byte(v), &m); uerr != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Pending returns the queue depth, for the health surface.
func (r *Router) Pending(ctx context.Context, user string) (int64, error) {
	return r.rdb.LLen(ctx, offlineKey(user)).Result()
}
