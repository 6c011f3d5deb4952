package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"CProject/logger"
)

// Record is the authoritative presence state kept in the shared store under
// im:presence:<user> with a short TTL. The in-process cache below is a
// convenience for connection lookup and is never treated as ground truth.
type Record struct {
	UserID    string `json:"user_id"`
	GatewayID string `json:"gateway_id"`
	ConnID    string `json:"conn_id"`
	LastSeen  int64  `json:"last_seen"` // unix ms
}

func presenceKey(user string) string { return "im:presence:" + user }

// Store is the shared-store half of the tracker. SetOffline reports whether
// the record was actually removed: a record owned by another gateway stays.
type Store interface {
	SetOnline(ctx context.Context, rec Record, ttl time.Duration) error
	SetOffline(ctx context.Context, user, gatewayID string) (bool, error)
	Lookup(ctx context.Context, user string) (Record, bool, error)
	Refresh(ctx context.Context, user string, ttl time.Duration) error
}

type redisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) SetOnline(ctx context.Context, rec Record, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, presenceKey(rec.UserID), b, ttl).Err()
}

// setOfflineScript deletes the record only when this gateway still owns it.
// A user reconnected through another instance keeps that instance's record;
// an unreadable record is garbage and goes regardless.
var setOfflineScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local ok, rec = pcall(cjson.decode, v)
if not ok then
	redis.call('DEL', KEYS[1])
	return 1
end
if rec['gateway_id'] == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

func (s *redisStore) SetOffline(ctx context.Context, user, gatewayID string) (bool, error) {
	n, err := setOfflineScript.Run(ctx, s.rdb, []string{presenceKey(user)}, gatewayID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *redisStore) Lookup(ctx context.Context, user string) (Record, bool, error) {
	val, err := s.rdb.Get(ctx, presenceKey(user)).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if uerr := json.Unmarshal([]byte(val), &rec); uerr != nil {
		// Unreadable record counts as offline; the TTL will collect it.
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *redisStore) Refresh(ctx context.Context, user string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, presenceKey(user), ttl).Err()
}

// Broadcaster pushes online/offline transitions to every gateway instance.
type Broadcaster interface {
	BroadcastPresence(user string, online bool) error
}

// Tracker implements the presence contract. All reads go to the shared store;
// the local map only caches the last answer and is overwritten whenever the
// store disagrees.
type Tracker struct {
	store     Store
	gatewayID string
	ttl       time.Duration
	bcast     Broadcaster

	mu    sync.RWMutex
	cache map[string]Record
}

func NewTracker(store Store, gatewayID string, ttl time.Duration, bcast Broadcaster) *Tracker {
	return &Tracker{
		store:     store,
		gatewayID: gatewayID,
		ttl:       ttl,
		bcast:     bcast,
		cache:     make(map[string]Record),
	}
}

func (t *Tracker) SetOnline(ctx context.Context, user, connID string) error {
	rec := Record{
		UserID:    user,
		GatewayID: t.gatewayID,
		ConnID:    connID,
		LastSeen:  time.Now().UnixMilli(),
	}
	if err := t.store.SetOnline(ctx, rec, t.ttl); err != nil {
		return err
	}
	t.mu.Lock()
	t.cache[user] = rec
	t.mu.Unlock()
	t.broadcast(user, true)
	return nil
}

func (t *Tracker) SetOffline(ctx context.Context, user string) error {
	removed, err := t.store.SetOffline(ctx, user, t.gatewayID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.cache, user)
	t.mu.Unlock()
	// Not removed means another instance owns the record now; the user is
	// still online there and no offline transition happened.
	if removed {
		t.broadcast(user, false)
	}
	return nil
}

// IsOnline queries the shared store and reconciles the local cache with it.
func (t *Tracker) IsOnline(ctx context.Context, user string) (bool, error) {
	rec, online, err := t.store.Lookup(ctx, user)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	if online {
		t.cache[user] = rec
	} else {
		delete(t.cache, user)
	}
	t.mu.Unlock()
	return online, nil
}

// Lookup returns the full authoritative record.
func (t *Tracker) Lookup(ctx context.Context, user string) (Record, bool, error) {
	rec, online, err := t.store.Lookup(ctx, user)
	if err != nil {
		return Record{}, false, err
	}
	t.mu.Lock()
	if online {
		t.cache[user] = rec
	} else {
		delete(t.cache, user)
	}
	t.mu.Unlock()
	return rec, online, nil
}

// CachedConn is the O(1) local-cache lookup used on the hot send path. A miss
// or a stale hit is fine: the caller falls back to Lookup.
func (t *Tracker) CachedConn(user string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.cache[user]
	return rec.ConnID, ok
}

// Heartbeat extends the TTL of the shared record.
func (t *Tracker) Heartbeat(ctx context.Context, user string) error {
	return t.store.Refresh(ctx, user, t.ttl)
}

func (t *Tracker) broadcast(user string, online bool) {
	if t.bcast == nil {
		return
	}
	if err := t.bcast.BroadcastPresence(user, online); err != nil {
		logger.Warnf("[presence] broadcast user=%s online=%v failed: %v", user, online, err)
	}
}
