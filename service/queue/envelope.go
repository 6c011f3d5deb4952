package queue

import (
	"encoding/json"
	"time"

	errs "CProject/tools/errs"
)

// Kind discriminates the envelope union. Each kind has exactly one queue and
// one handler; payload shapes live next to their producers.
type Kind string

const (
	KindNewMessage      Kind = "new_message"
	KindDeliveryReceipt Kind = "delivery_receipt"
	KindReadReceipt     Kind = "read_receipt"
	KindNotification    Kind = "notification_job"
)

// Envelope is the unit of durable-queue work. Attempts counts drain cycles
// that failed transiently; the payload must apply idempotently because the
// queue is at-least-once.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt int64           `json:"enqueued_at"` // unix ms
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(kind Kind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal envelope payload")
	}
	return &Envelope{
		Kind:       kind,
		EnqueuedAt: time.Now().UnixMilli(),
		Payload:    raw,
	}, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.WrapMsg(err, "decode envelope")
	}
	if e.Kind == "" {
		return nil, errs.New("envelope missing kind")
	}
	return &e, nil
}

// Decode unmarshals the payload into out.
func (e *Envelope) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}
