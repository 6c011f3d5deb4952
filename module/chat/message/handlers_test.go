package message

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"CProject/module/chat/model"
	"CProject/service/queue"
	errs "CProject/tools/errs"
)

// listStore is an in-memory queue.Store for exercising the enqueue paths.
type listStore struct {
	items   map[string][][]byte
	pushErr error
}

func newListStore() *listStore {
	return &listStore{items: make(map[string][][]byte)}
}

func (s *listStore) Push(_ context.Context, name string, raw []byte) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	s.items[name] = append(s.items[name], raw)
	return nil
}

func (s *listStore) PopBatch(_ context.Context, name string, n int) ([][]byte, error) {
	l := s.items[name]
	if len(l) == 0 {
		return nil, nil
	}
	if n > len(l) {
		n = len(l)
	}
	out := l[:n]
	s.items[name] = l[n:]
	return out, nil
}

func (s *listStore) BPop(_ context.Context, name string, _ time.Duration) ([]byte, error) {
	b, err := s.PopBatch(context.Background(), name, 1)
	if err != nil || len(b) == 0 {
		return nil, err
	}
	return b[0], nil
}

func (s *listStore) Len(_ context.Context, name string) (int64, error) {
	return int64(len(s.items[name])), nil
}

func TestEnqueueFanoutPushFailureIsTransient(t *testing.T) {
	store := newListStore()
	store.pushErr = errors.New("dial tcp: connection refused")
	svc := NewService(nil, queue.New(store))

	m := &model.Message{
		MessageID:      "m-77",
		ConversationID: "c-1",
		SenderID:       "alice",
		Content:        model.MessageContent{Text: "hi"},
	}
	err := svc.enqueueFanout(context.Background(), m)
	if err == nil {
		t.Fatal("push failure swallowed")
	}
	if !errs.ErrTransientInfra.Is(err) {
		t.Fatalf("error not transient: %v", err)
	}
	if !strings.Contains(err.Error(), "m-77") {
		t.Fatalf("error does not carry the message id: %v", err)
	}
}

func TestEnqueueFanoutCarriesMessageFields(t *testing.T) {
	store := newListStore()
	svc := NewService(nil, queue.New(store))

	m := &model.Message{
		MessageID:      "m-1",
		ConversationID: "c-1",
		SenderID:       "alice",
		Type:           model.MsgTypeText,
		Content:        model.MessageContent{Text: "hello"},
		ClientTempID:   "tmp-1",
		CreateTime:     42,
	}
	if err := svc.enqueueFanout(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	raws := store.items[queue.QueueMessage]
	if len(raws) != 1 {
		t.Fatalf("queued %d envelopes, want 1", len(raws))
	}
	env, err := queue.DecodeEnvelope(raws[0])
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != queue.KindNewMessage {
		t.Fatalf("kind = %s", env.Kind)
	}
	var p NewMessagePayload
	if err := env.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID != "m-1" || p.ConversationID != "c-1" || p.ClientTempID != "tmp-1" || p.CreateTime != 42 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestRecipientsIncludesReaderWhenNotExcluded(t *testing.T) {
	parts := []model.Participant{
		{UserID: "alice"},
		{UserID: "bob"},
	}
	got := recipients(parts, "")
	if len(got) != 2 {
		t.Fatalf("recipients = %v, want both participants", got)
	}
	got = recipients(parts, "alice")
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("recipients = %v, want [bob]", got)
	}
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("日", 200)
	p := preview(model.MessageContent{Text: long})
	if !utf8.ValidString(p) {
		t.Fatal("preview is not valid UTF-8")
	}
	if got := len([]rune(p)); got != 120 {
		t.Fatalf("preview length = %d runes, want 120", got)
	}

	short := "hello"
	if got := preview(model.MessageContent{Text: short}); got != short {
		t.Fatalf("preview = %q", got)
	}
}
