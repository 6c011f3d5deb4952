package chat

import (
	"sync"
	"time"
)

const typingExpiry = 3 * time.Second

// typingTracker enforces the auto-expiry of typing indicators: a client that
// starts typing and goes silent stops "typing" for everyone after three
// seconds even if it never sends the stop event.
type typingTracker struct {
	mu     sync.Mutex
	timers map[string]*time.Timer // key conversationID|userID
	expire func(conversationID, userID string)
}

func newTypingTracker(expire func(conversationID, userID string)) *typingTracker {
	return &typingTracker{
		timers: make(map[string]*time.Timer),
		expire: expire,
	}
}

func typingKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

// Start arms (or re-arms) the expiry timer for one typist.
func (t *typingTracker) Start(conversationID, userID string) {
	key := typingKey(conversationID, userID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[key]; ok {
		tm.Reset(typingExpiry)
		return
	}
	t.timers[key] = time.AfterFunc(typingExpiry, func() {
		t.mu.Lock()
		delete(t.timers, key)
		t.mu.Unlock()
		t.expire(conversationID, userID)
	})
}

// Stop cancels the timer when the client reports it stopped typing.
func (t *typingTracker) Stop(conversationID, userID string) {
	key := typingKey(conversationID, userID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[key]; ok {
		tm.Stop()
		delete(t.timers, key)
	}
}

// StopAll cancels every timer held by one user, used on disconnect.
func (t *typingTracker) StopAll(userID string) {
	suffix := "|" + userID
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, tm := range t.timers {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			tm.Stop()
			delete(t.timers, key)
		}
	}
}
