package model

import "testing"

func TestStatusesBelow(t *testing.T) {
	cases := []struct {
		target string
		want   []string
	}{
		{StatusDelivered, []string{StatusSent}},
		{StatusRead, []string{StatusSent, StatusDelivered}},
		{StatusSent, nil},
	}
	for _, tc := range cases {
		got := StatusesBelow(tc.target)
		if len(got) != len(tc.want) {
			t.Fatalf("StatusesBelow(%s) = %v, want %v", tc.target, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("StatusesBelow(%s)[%d] = %s, want %s", tc.target, i, got[i], tc.want[i])
			}
		}
	}
}

func TestContentEmpty(t *testing.T) {
	if !(MessageContent{}).Empty() {
		t.Error("zero content should be empty")
	}
	if (MessageContent{Text: "hi"}).Empty() {
		t.Error("text content should not be empty")
	}
	if (MessageContent{Images: []string{"u"}}).Empty() {
		t.Error("image content should not be empty")
	}
	if (MessageContent{Audio: "clip"}).Empty() {
		t.Error("audio content should not be empty")
	}
	if (MessageContent{Attachments: []string{"f"}}).Empty() {
		t.Error("attachment content should not be empty")
	}
	// Reply reference alone carries no body.
	if !(MessageContent{ReplyToID: "m1"}).Empty() {
		t.Error("bare reply reference should be empty")
	}
}
