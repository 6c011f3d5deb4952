package presence

import (
	"context"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with no TTL behavior; tests expire records
// by deleting them.
type fakeStore struct {
	recs map[string]Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[string]Record)}
}

func (s *fakeStore) SetOnline(_ context.Context, rec Record, _ time.Duration) error {
	s.recs[rec.UserID] = rec
	return nil
}

func (s *fakeStore) SetOffline(_ context.Context, user, gatewayID string) (bool, error) {
	rec, ok := s.recs[user]
	if !ok {
		return false, nil
	}
	if rec.GatewayID != gatewayID {
		return false, nil
	}
	delete(s.recs, user)
	return true, nil
}

func (s *fakeStore) Lookup(_ context.Context, user string) (Record, bool, error) {
	rec, ok := s.recs[user]
	return rec, ok, nil
}

func (s *fakeStore) Refresh(_ context.Context, _ string, _ time.Duration) error { return nil }

type recordingBcast struct {
	events []string
}

func (b *recordingBcast) BroadcastPresence(user string, online bool) error {
	state := "off"
	if online {
		state = "on"
	}
	b.events = append(b.events, user+":"+state)
	return nil
}

func TestTrackerOnlineOffline(t *testing.T) {
	store := newFakeStore()
	bcast := &recordingBcast{}
	tr := NewTracker(store, "gw-1", time.Minute, bcast)
	ctx := context.Background()

	if err := tr.SetOnline(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	online, err := tr.IsOnline(ctx, "alice")
	if err != nil || !online {
		t.Fatalf("IsOnline = %v, %v; want true", online, err)
	}
	rec, ok, _ := tr.Lookup(ctx, "alice")
	if !ok || rec.GatewayID != "gw-1" || rec.ConnID != "conn-1" {
		t.Fatalf("Lookup = %+v, %v", rec, ok)
	}

	if err := tr.SetOffline(ctx, "alice"); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}
	online, _ = tr.IsOnline(ctx, "alice")
	if online {
		t.Fatal("still online after SetOffline")
	}

	want := []string{"alice:on", "alice:off"}
	if len(bcast.events) != len(want) {
		t.Fatalf("broadcast events = %v", bcast.events)
	}
	for i := range want {
		if bcast.events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, bcast.events[i], want[i])
		}
	}
}

func TestTrackerStoreIsGroundTruth(t *testing.T) {
	store := newFakeStore()
	tr := NewTracker(store, "gw-1", time.Minute, nil)
	ctx := context.Background()

	_ = tr.SetOnline(ctx, "bob", "conn-9")
	if conn, ok := tr.CachedConn("bob"); !ok || conn != "conn-9" {
		t.Fatalf("cache miss after SetOnline: %s, %v", conn, ok)
	}

	// Simulate TTL expiry behind the tracker's back.
	delete(store.recs, "bob")

	online, err := tr.IsOnline(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if online {
		t.Fatal("IsOnline trusted the stale cache over the store")
	}
	if _, ok := tr.CachedConn("bob"); ok {
		t.Fatal("cache not reconciled after store disagreement")
	}
}

func TestTrackerOfflineKeepsForeignRecord(t *testing.T) {
	store := newFakeStore()
	bcast := &recordingBcast{}
	tr := NewTracker(store, "gw-1", time.Minute, bcast)
	ctx := context.Background()

	// User reconnected through gw-2 after gw-1's connection dropped; gw-2's
	// record must survive gw-1's late SetOffline.
	_ = tr.SetOnline(ctx, "dave", "conn-1")
	store.recs["dave"] = Record{UserID: "dave", GatewayID: "gw-2", ConnID: "conn-5"}

	if err := tr.SetOffline(ctx, "dave"); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}
	rec, ok, _ := tr.Lookup(ctx, "dave")
	if !ok || rec.GatewayID != "gw-2" {
		t.Fatalf("foreign record clobbered: %+v, %v", rec, ok)
	}
	for _, ev := range bcast.events {
		if ev == "dave:off" {
			t.Fatal("offline broadcast for a user still online elsewhere")
		}
	}

	// Once this gateway owns the record again, SetOffline removes it.
	_ = tr.SetOnline(ctx, "dave", "conn-2")
	_ = tr.SetOffline(ctx, "dave")
	if _, ok, _ := tr.Lookup(ctx, "dave"); ok {
		t.Fatal("owned record survived SetOffline")
	}
	if last := bcast.events[len(bcast.events)-1]; last != "dave:off" {
		t.Fatalf("last event = %s, want dave:off", last)
	}
}

func TestTrackerCacheOverwrittenByStore(t *testing.T) {
	store := newFakeStore()
	tr := NewTracker(store, "gw-1", time.Minute, nil)
	ctx := context.Background()

	_ = tr.SetOnline(ctx, "carol", "conn-1")
	// Another gateway wins the record.
	store.recs["carol"] = Record{UserID: "carol", GatewayID: "gw-2", ConnID: "conn-7"}

	rec, ok, _ := tr.Lookup(ctx, "carol")
	if !ok || rec.GatewayID != "gw-2" {
		t.Fatalf("Lookup = %+v", rec)
	}
	if conn, _ := tr.CachedConn("carol"); conn != "conn-7" {
		t.Fatalf("cache = %s, want conn-7 from the store", conn)
	}
}
