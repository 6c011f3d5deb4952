package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"CProject/logger"
	"CProject/tools/safe"
)

// One FIFO list per message class. Push is LPUSH, pop is RPOP, so list order
// is submission order.
const (
	QueueMessage  = "queue:message"
	QueueDelivery = "queue:delivery"
	QueueRead     = "queue:read"
	QueueNotify   = "queue:notify"
	QueueDead     = "queue:dead"
)

// Store is the atomic push/pop surface over the shared store. The redis
// implementation is the production one; tests swap in an in-memory store.
type Store interface {
	Push(ctx context.Context, name string, raw []byte) error
	PopBatch(ctx context.Context, name string, n int) ([][]byte, error)
	BPop(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
	Len(ctx context.Context, name string) (int64, error)
}

type redisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Push(ctx context.Context, name string, raw []byte) error {
	return s.rdb.LPush(ctx, name, raw).Err()
}

func (s *redisStore) PopBatch(ctx context.Context, name string, n int) ([][]byte, error) {
	if n <= 0 {
		n = 1
	}
	vals, err := s.rdb.RPopCount(ctx, name, n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (s *redisStore) BPop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	vals, err := s.rdb.BRPop(ctx, timeout, name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value]
	if len(vals) != 2 {
		return nil, nil
	}
	return []byte(vals[1]), nil
}

func (s *redisStore) Len(ctx context.Context, name string) (int64, error) {
	return s.rdb.LLen(ctx, name).Result()
}

// Queue wraps a Store with envelope encoding and delayed requeue.
type Queue struct {
	store Store
}

func New(store Store) *Queue {
	return &Queue{store: store}
}

func (q *Queue) Store() Store { return q.store }

func (q *Queue) Push(ctx context.Context, name string, e *Envelope) error {
	raw, err := e.Encode()
	if err != nil {
		return err
	}
	return q.store.Push(ctx, name, raw)
}

// PushDelayed re-pushes an envelope to the tail of the same queue after the
// given delay. The retry is visible only as re-appearance in the queue; the
// process timer is acceptable because the envelope already survived the
// original durable push.
func (q *Queue) PushDelayed(name string, e *Envelope, delay time.Duration) {
	raw, err := e.Encode()
	if err != nil {
		logger.Errorf("[queue] encode for delayed push failed: %v", err)
		return
	}
	safe.Go("queue.delayed-push", func() {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.store.Push(ctx, name, raw); err != nil {
			logger.Errorf("[queue] delayed push to %s failed: %v", name, err)
		}
	})
}

// DeadLetter moves the envelope to the dead-letter queue with a reason.
func (q *Queue) DeadLetter(ctx context.Context, e *Envelope, reason string) error {
	e.Reason = reason
	return q.Push(ctx, QueueDead, e)
}
