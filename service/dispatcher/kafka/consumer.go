package kafka

import (
	"context"
	"encoding/json"

	"github.com/Shopify/sarama"

	"CProject/global/config"
	"CProject/logger"
	"CProject/tools/safe"
)

// DeliverFunc hands a forwarded frame to the local connection table. A frame
// for a user without a local connection is dropped here: presence moved on
// and the durable copy already exists.
type DeliverFunc func(userID string, payload []byte)

type groupHandler struct {
	deliver DeliverFunc
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var f ForwardFrame
		if err := json.Unmarshal(msg.Value, &f); err != nil {
			logger.Warnf("[kafka] drop undecodable frame topic=%s offset=%d: %v", msg.Topic, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}
		if f.UserID != "" {
			h.deliver(f.UserID, f.Payload)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup joins the fan-out topics and feeds frames to deliver
// until ctx ends. Each gateway uses its own group id so every instance sees
// every frame and keeps only those for its local users.
func StartConsumerGroup(ctx context.Context, conf config.KafkaConfig, deliver DeliverFunc) error {
	group, err := sarama.NewConsumerGroup(conf.Brokers, conf.GroupID, buildConfig(conf.GroupID))
	if err != nil {
		return err
	}
	safe.Go("kafka.group-errors", func() {
		for err := range group.Errors() {
			logger.Errorf("[kafka] consumer group: %v", err)
		}
	})
	safe.Go("kafka.consume", func() {
		defer group.Close()
		handler := &groupHandler{deliver: deliver}
		for {
			if ctx.Err() != nil {
				return
			}
			if err := group.Consume(ctx, Topics(), handler); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Errorf("[kafka] consume: %v", err)
			}
		}
	})
	return nil
}
