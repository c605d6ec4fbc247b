package kafka

import (
	"errors"
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config 生产者/消费者共用的配置，默认值在 norm() 里补齐
type Config struct {
	Brokers          []string
	ClientID         string
	Topic            string // 默认 chat.messages
	GroupID          string
	Version          string // 低于 2.1.0 时抬到 2.1.0
	RetryMax         int
	Compression      string // none/snappy/lz4/zstd/gzip
	InitialOffset    string // oldest/newest
	PublishTimeout   time.Duration
	RebalanceBackoff time.Duration
}

func (c *Config) norm() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers are required")
	}
	if c.ClientID == "" {
		c.ClientID = "linkwave"
	}
	if c.Topic == "" {
		c.Topic = "chat.messages"
	}
	if c.GroupID == "" {
		c.GroupID = "linkwave-chat-consumer"
	}
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10
	}
	if c.InitialOffset == "" {
		c.InitialOffset = "oldest"
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.RebalanceBackoff <= 0 {
		c.RebalanceBackoff = 2 * time.Second
	}
	return nil
}

// BuildConfig 幂等生产者 + 按 key 哈希分区；同一个 roomId 永远落在同一个分区
func BuildConfig(c Config) (*sarama.Config, error) {
	if err := c.norm(); err != nil {
		return nil, err
	}
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, err
	}
	if !version.IsAtLeast(sarama.V2_1_0_0) {
		version = sarama.V2_1_0_0
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = c.ClientID
	cfg.Version = version

	// Producer
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Retry.Max = c.RetryMax
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.MaxOpenRequests = 1 // 幂等要求

	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.InitialOffset) {
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
