package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the per-process configuration. One YAML file feeds both the
// gateway and the msgworker; each process reads the sections it needs.
type AppConfig struct {
	Node     NodeConfig     `yaml:"node"`
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Nats     NatsConfig     `yaml:"nats"`
	Queue    QueueConfig    `yaml:"queue"`
	Presence PresenceConfig `yaml:"presence"`
	Offline  OfflineConfig  `yaml:"offline"`
	Notify   NotifyConfig   `yaml:"notify"`
	JWT      JWTConfig      `yaml:"jwt"`
}

type NodeConfig struct {
	GatewayID string `yaml:"gateway_id"` // stable per instance, feeds presence records
	NodeID    int64  `yaml:"node_id"`    // snowflake node part
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	MaxPoolSize uint64 `yaml:"max_pool_size"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	GroupID      string   `yaml:"group_id"`
	TopicPattern string   `yaml:"topic_pattern"` // e.g. im.gateway.fanout-%02d
	TopicCount   int      `yaml:"topic_count"`
}

type NatsConfig struct {
	URL             string `yaml:"url"`
	PresenceSubject string `yaml:"presence_subject"`
}

type QueueConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	DLQInterval time.Duration `yaml:"dlq_interval"`
}

type PresenceConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type OfflineConfig struct {
	MaxQueueLen int64 `yaml:"max_queue_len"`
	ReplayBatch int   `yaml:"replay_batch"`
}

type NotifyConfig struct {
	App  string           `yaml:"app"`
	FCM  FCMProviderConf  `yaml:"fcm"`
	APNS APNSProviderConf `yaml:"apns"`
}

type FCMProviderConf struct {
	Endpoint  string `yaml:"endpoint"`
	ServerKey string `yaml:"server_key"`
}

type APNSProviderConf struct {
	Endpoint string `yaml:"endpoint"`
	Topic    string `yaml:"topic"` // app bundle id
	Token    string `yaml:"token"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads the YAML file, fills defaults and applies env overrides for the
// store addresses so containers can point elsewhere without editing the file.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.fillDefaults()
	return cfg
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = []string{v}
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Nats.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = p
		}
	}
	if v := os.Getenv("GATEWAY_ID"); v != "" {
		c.Node.GatewayID = v
	}
}

func (c *AppConfig) fillDefaults() {
	if c.Node.GatewayID == "" {
		host, _ := os.Hostname()
		c.Node.GatewayID = "gateway-" + host
	}
	if c.Node.NodeID <= 0 {
		c.Node.NodeID = 1
	}
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 32
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://127.0.0.1:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "chat"
	}
	if c.Mongo.MaxPoolSize == 0 {
		c.Mongo.MaxPoolSize = 20
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"127.0.0.1:9092"}
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "im-gateway"
	}
	if c.Kafka.TopicPattern == "" {
		c.Kafka.TopicPattern = "im.gateway.fanout-%02d"
	}
	if c.Kafka.TopicCount <= 0 {
		c.Kafka.TopicCount = 4
	}
	if c.Nats.URL == "" {
		c.Nats.URL = "nats://127.0.0.1:4222"
	}
	if c.Nats.PresenceSubject == "" {
		c.Nats.PresenceSubject = "im.presence"
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.RetryDelay <= 0 {
		c.Queue.RetryDelay = 5 * time.Second
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.DLQInterval <= 0 {
		c.Queue.DLQInterval = 5 * time.Minute
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 60 * time.Second
	}
	if c.Offline.MaxQueueLen <= 0 {
		c.Offline.MaxQueueLen = 10000
	}
	if c.Offline.ReplayBatch <= 0 {
		c.Offline.ReplayBatch = 100
	}
	if c.Notify.App == "" {
		c.Notify.App = "chat"
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = "dev-secret-change-me"
	}
}
