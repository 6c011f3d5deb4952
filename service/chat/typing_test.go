package chat

import (
	"sync"
	"testing"
	"time"
)

type expiryRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *expiryRecorder) record(conv, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, conv+"|"+user)
}

func (r *expiryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func TestTypingStopCancelsExpiry(t *testing.T) {
	rec := &expiryRecorder{}
	tr := newTypingTracker(rec.record)

	tr.Start("conv-1", "alice")
	tr.Stop("conv-1", "alice")

	tr.mu.Lock()
	_, armed := tr.timers[typingKey("conv-1", "alice")]
	tr.mu.Unlock()
	if armed {
		t.Fatal("timer still armed after Stop")
	}
	if rec.count() != 0 {
		t.Fatal("expiry fired after explicit stop")
	}
}

func TestTypingRestartKeepsSingleTimer(t *testing.T) {
	rec := &expiryRecorder{}
	tr := newTypingTracker(rec.record)

	tr.Start("conv-1", "alice")
	tr.Start("conv-1", "alice")
	tr.Start("conv-1", "alice")

	tr.mu.Lock()
	n := len(tr.timers)
	tr.mu.Unlock()
	if n != 1 {
		t.Fatalf("timers = %d, want 1", n)
	}
	tr.Stop("conv-1", "alice")
}

func TestTypingStopAllClearsUserAcrossConversations(t *testing.T) {
	rec := &expiryRecorder{}
	tr := newTypingTracker(rec.record)

	tr.Start("conv-1", "alice")
	tr.Start("conv-2", "alice")
	tr.Start("conv-1", "bob")

	tr.StopAll("alice")

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.timers) != 1 {
		t.Fatalf("timers = %d, want only bob's", len(tr.timers))
	}
	if _, ok := tr.timers[typingKey("conv-1", "bob")]; !ok {
		t.Fatal("StopAll removed another user's timer")
	}
}

func TestTypingExpiryFires(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the expiry window")
	}
	rec := &expiryRecorder{}
	tr := newTypingTracker(rec.record)

	tr.Start("conv-1", "alice")
	deadline := time.Now().Add(typingExpiry + 2*time.Second)
	for time.Now().Before(deadline) {
		if rec.count() == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expiry never fired")
}
