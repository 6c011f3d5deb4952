package kafka

import (
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	"CProject/global/config"
)

var (
	mu       sync.Mutex
	client   sarama.Client
	producer sarama.SyncProducer
	topics   []string
)

// buildConfig is shared by producer and consumer group. The hash partitioner
// keys on user id so one user's events stay ordered within a partition.
func buildConfig(groupID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	if groupID != "" {
		cfg.ClientID = groupID
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// Init connects the shared client and sync producer and fixes the topic set.
func Init(conf config.KafkaConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if client != nil {
		return nil
	}
	c, err := sarama.NewClient(conf.Brokers, buildConfig(conf.GroupID))
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	p, err := sarama.NewSyncProducerFromClient(c)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("kafka producer: %w", err)
	}
	client = c
	producer = p
	topics = GenTopics(conf.TopicPattern, conf.TopicCount)
	return nil
}

// GenTopics expands the fan-out pattern into the fixed shard list.
func GenTopics(pattern string, n int) []string {
	if n <= 0 {
		n = 1
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf(pattern, i))
	}
	return out
}

func Topics() []string { return topics }

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if producer != nil {
		_ = producer.Close()
		producer = nil
	}
	if client != nil {
		_ = client.Close()
		client = nil
	}
}
