package kafka

import "testing"

func TestGenTopics(t *testing.T) {
	got := GenTopics("im.gateway.fanout-%02d", 3)
	want := []string{"im.gateway.fanout-00", "im.gateway.fanout-01", "im.gateway.fanout-02"}
	if len(got) != len(want) {
		t.Fatalf("GenTopics = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestGenTopicsZeroCount(t *testing.T) {
	if got := GenTopics("t-%d", 0); len(got) != 1 {
		t.Fatalf("zero count should expand to one topic, got %v", got)
	}
}

func TestSelectTopicByUserIsStable(t *testing.T) {
	topics := GenTopics("shard-%d", 8)
	for _, user := range []string{"alice", "bob", "carol", ""} {
		first := SelectTopicByUser(user, topics)
		for i := 0; i < 10; i++ {
			if SelectTopicByUser(user, topics) != first {
				t.Fatalf("selection for %q not stable", user)
			}
		}
	}
}

func TestSelectTopicByUserEmptyTopics(t *testing.T) {
	if SelectTopicByUser("alice", nil) != "" {
		t.Fatal("no topics should select nothing")
	}
}

func TestSelectTopicByUserSpreads(t *testing.T) {
	topics := GenTopics("shard-%d", 4)
	hit := map[string]bool{}
	for _, u := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10", "u11", "u12"} {
		hit[SelectTopicByUser(u, topics)] = true
	}
	if len(hit) < 2 {
		t.Fatalf("crc32 selection landed everything on %d shard(s)", len(hit))
	}
}
