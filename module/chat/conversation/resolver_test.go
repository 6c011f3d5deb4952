package conversation

import (
	"testing"
	"time"

	"CProject/module/chat/model"
)

func TestPairKeyOrderIndependent(t *testing.T) {
	if model.PairKey("alice", "bob", "") != model.PairKey("bob", "alice", "") {
		t.Fatal("pair key must not depend on argument order")
	}
	if model.PairKey("alice", "bob", "job-1") == model.PairKey("alice", "bob", "") {
		t.Fatal("context id must separate threads for the same pair")
	}
	if model.PairKey("alice", "bob", "job-1") == model.PairKey("alice", "bob", "job-2") {
		t.Fatal("different contexts must not collide")
	}
}

func TestPairKeyDistinctPairs(t *testing.T) {
	seen := map[string]bool{}
	pairs := [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}, {"ab", "c"}}
	for _, p := range pairs {
		k := model.PairKey(p[0], p[1], "")
		if seen[k] {
			t.Fatalf("collision for pair %v: %s", p, k)
		}
		seen[k] = true
	}
}

func TestOldestPicksEarliestCreated(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []model.Conversation{
		{ConversationID: "c2", CreateTime: base.Add(time.Minute)},
		{ConversationID: "c1", CreateTime: base},
		{ConversationID: "c3", CreateTime: base.Add(time.Hour)},
	}
	if got := Oldest(rows).ConversationID; got != "c1" {
		t.Fatalf("Oldest = %s, want c1", got)
	}
}

func TestOldestSingleRow(t *testing.T) {
	rows := []model.Conversation{{ConversationID: "only"}}
	if Oldest(rows).ConversationID != "only" {
		t.Fatal("single row must be returned as-is")
	}
}
