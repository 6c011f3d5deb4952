package message

import (
	"context"
	"errors"
	"testing"

	"CProject/service/presence"
	errs "CProject/tools/errs"
)

type fakePresence struct {
	recs map[string]presence.Record
	err  error
}

func (f *fakePresence) Lookup(_ context.Context, user string) (presence.Record, bool, error) {
	if f.err != nil {
		return presence.Record{}, false, f.err
	}
	rec, ok := f.recs[user]
	return rec, ok, nil
}

type fakeOffline struct {
	stored map[string][][]byte
	err    error
}

func (f *fakeOffline) Enqueue(_ context.Context, user, _ string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.stored == nil {
		f.stored = map[string][][]byte{}
	}
	f.stored[user] = append(f.stored[user], payload)
	return nil
}

type fakeNotifier struct {
	calls []string
}

func (f *fakeNotifier) Notify(_ context.Context, recipient, eventKey string, _ map[string]string) error {
	f.calls = append(f.calls, recipient+":"+eventKey)
	return nil
}

type fakeLocal struct {
	sent map[string][][]byte
	err  error
}

func (f *fakeLocal) SendToUser(user string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string][][]byte{}
	}
	f.sent[user] = append(f.sent[user], payload)
	return nil
}

type fakeForward struct {
	sent map[string][][]byte
	err  error
}

func (f *fakeForward) Forward(user string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string][][]byte{}
	}
	f.sent[user] = append(f.sent[user], payload)
	return nil
}

func onlineAt(gateway string, users ...string) *fakePresence {
	recs := make(map[string]presence.Record)
	for _, u := range users {
		recs[u] = presence.Record{UserID: u, GatewayID: gateway, ConnID: "c-" + u}
	}
	return &fakePresence{recs: recs}
}

func msgOpts() DeliverOpts {
	return DeliverOpts{
		StoreOffline: true,
		Notify:       &NotifyHint{EventKey: "message.new", Data: map[string]string{"preview": "hi"}},
	}
}

func TestDeliverLocalOnline(t *testing.T) {
	local := &fakeLocal{}
	off := &fakeOffline{}
	d := NewDeliverer("gw-1", onlineAt("gw-1", "alice"), off, &fakeNotifier{}, local, &fakeForward{})

	live, err := d.Deliver(context.Background(), "alice", "bob", []byte("ev"), msgOpts())
	if err != nil {
		t.Fatal(err)
	}
	if !live {
		t.Fatal("want live delivery")
	}
	if len(local.sent["alice"]) != 1 {
		t.Fatalf("local sends = %d", len(local.sent["alice"]))
	}
	if len(off.stored) != 0 {
		t.Error("live delivery must not store offline")
	}
}

func TestDeliverRemoteForwards(t *testing.T) {
	fwd := &fakeForward{}
	local := &fakeLocal{}
	d := NewDeliverer("gw-1", onlineAt("gw-2", "alice"), &fakeOffline{}, &fakeNotifier{}, local, fwd)

	live, err := d.Deliver(context.Background(), "alice", "bob", []byte("ev"), msgOpts())
	if err != nil {
		t.Fatal(err)
	}
	if !live {
		t.Fatal("remote delivery counts as live")
	}
	if len(fwd.sent["alice"]) != 1 {
		t.Fatal("frame not forwarded")
	}
	if len(local.sent) != 0 {
		t.Error("remote user must not get a local send")
	}
}

func TestDeliverOfflineStoresAndNotifies(t *testing.T) {
	off := &fakeOffline{}
	n := &fakeNotifier{}
	d := NewDeliverer("gw-1", &fakePresence{}, off, n, &fakeLocal{}, &fakeForward{})

	live, err := d.Deliver(context.Background(), "alice", "bob", []byte("ev"), msgOpts())
	if err != nil {
		t.Fatal(err)
	}
	if live {
		t.Fatal("offline user reported live")
	}
	if len(off.stored["alice"]) != 1 {
		t.Fatal("event not stored for replay")
	}
	if len(n.calls) != 1 || n.calls[0] != "alice:message.new" {
		t.Fatalf("notify calls = %v", n.calls)
	}
}

func TestDeliverEphemeralSkipsOfflineUser(t *testing.T) {
	off := &fakeOffline{}
	n := &fakeNotifier{}
	d := NewDeliverer("gw-1", &fakePresence{}, off, n, &fakeLocal{}, &fakeForward{})

	live, err := d.Deliver(context.Background(), "alice", "bob", []byte("typing"), DeliverOpts{})
	if err != nil || live {
		t.Fatalf("live=%v err=%v", live, err)
	}
	if len(off.stored) != 0 {
		t.Error("ephemeral event stored offline")
	}
	if len(n.calls) != 0 {
		t.Error("ephemeral event triggered a push")
	}
}

func TestDeliverDeadLocalConnFallsBackToOffline(t *testing.T) {
	off := &fakeOffline{}
	d := NewDeliverer("gw-1", onlineAt("gw-1", "alice"), off, &fakeNotifier{},
		&fakeLocal{err: errors.New("conn closed")}, &fakeForward{})

	live, err := d.Deliver(context.Background(), "alice", "bob", []byte("ev"), msgOpts())
	if err != nil {
		t.Fatal(err)
	}
	if live {
		t.Fatal("dead connection reported live")
	}
	if len(off.stored["alice"]) != 1 {
		t.Fatal("fallback did not store offline")
	}
}

func TestDeliverInfraErrorsAreTransient(t *testing.T) {
	cases := map[string]*Deliverer{
		"presence": NewDeliverer("gw-1", &fakePresence{err: errors.New("connection refused")},
			&fakeOffline{}, nil, &fakeLocal{}, &fakeForward{}),
		"forward": NewDeliverer("gw-1", onlineAt("gw-2", "alice"),
			&fakeOffline{}, nil, &fakeLocal{}, &fakeForward{err: errors.New("broker down")}),
		"offline": NewDeliverer("gw-1", &fakePresence{},
			&fakeOffline{err: errors.New("redis down")}, nil, &fakeLocal{}, &fakeForward{}),
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Deliver(context.Background(), "alice", "bob", []byte("ev"), msgOpts())
			if err == nil {
				t.Fatal("want error")
			}
			if !errs.ErrTransientInfra.Is(err) {
				t.Fatalf("error not transient: %v", err)
			}
		})
	}
}
