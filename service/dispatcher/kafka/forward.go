package kafka

import (
	"encoding/json"
	"errors"
	"hash/crc32"
	"time"

	"github.com/Shopify/sarama"
)

// ForwardFrame wraps an outbound wire event for the gateway holding the
// recipient's connection.
type ForwardFrame struct {
	UserID  string `json:"user_id"`
	Payload []byte `json:"payload"`
	SentAt  int64  `json:"sent_at"` // unix ms
}

// SelectTopicByUser pins one user to one shard so their events stay ordered.
func SelectTopicByUser(userID string, topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(userID))
	return topics[int(h%uint32(len(topics)))]
}

// Forwarder publishes frames for remote users. Satisfies the fan-out
// Forwarder contract.
type Forwarder struct{}

func NewForwarder() *Forwarder { return &Forwarder{} }

func (f *Forwarder) Forward(user string, payload []byte) error {
	if producer == nil {
		return errors.New("kafka producer not initialized")
	}
	topic := SelectTopicByUser(user, topics)
	if topic == "" {
		return errors.New("no fan-out topics configured")
	}
	raw, err := json.Marshal(ForwardFrame{
		UserID:  user,
		Payload: payload,
		SentAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(user),
		Value: sarama.ByteEncoder(raw),
	})
	return err
}
