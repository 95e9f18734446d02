package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/changejournal/cfg"
	"github.com/maxpert/changejournal/syncjob"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaBatchTimeout = 10 * time.Millisecond
)

func init() {
	syncjob.RegisterSink("kafka", func(config cfg.SinkConfiguration) (syncjob.Sink, error) {
		kafkaConfig, err := KafkaConfigFromSink(config)
		if err != nil {
			return nil, err
		}
		return NewKafkaSink(kafkaConfig)
	})
}

// KafkaSink writes each ChangeLog as one Kafka message keyed by sink name
type KafkaSink struct {
	writer *kafka.Writer
}

// KafkaConfig tunes the Kafka writer behind a sink
type KafkaConfig struct {
	Brokers      []string
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration // Flush delay for partial batches
	RequiredAcks kafka.RequiredAcks
	AutoCreate   bool
}

// DefaultKafkaConfig waits for all in-sync replicas and creates missing topics
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		BatchSize:    DefaultKafkaBatchSize,
		BatchBytes:   DefaultKafkaBatchBytes,
		BatchTimeout: DefaultKafkaBatchTimeout,
		RequiredAcks: kafka.RequireAll,
		AutoCreate:   true,
	}
}

// KafkaConfigFromSink applies the sink's acks setting to the defaults
func KafkaConfigFromSink(config cfg.SinkConfiguration) (KafkaConfig, error) {
	kafkaConfig := DefaultKafkaConfig(config.Brokers)

	switch config.Acks {
	case "", "all":
	case "leader":
		kafkaConfig.RequiredAcks = kafka.RequireOne
	case "none":
		kafkaConfig.RequiredAcks = kafka.RequireNone
	default:
		return KafkaConfig{}, fmt.Errorf("invalid kafka acks %q for sink %s", config.Acks, config.Name)
	}
	return kafkaConfig, nil
}

// NewKafkaSink creates a synchronous Kafka writer. Zero batch settings fall
// back to the defaults.
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = DefaultKafkaBatchTimeout
	}

	return &KafkaSink{
		writer: &kafka.Writer{
			Addr: kafka.TCP(config.Brokers...),
			// One key per sink keeps its ChangeLogs on one partition, in revision order
			Balancer:               &kafka.Hash{},
			BatchSize:              config.BatchSize,
			BatchBytes:             config.BatchBytes,
			BatchTimeout:           config.BatchTimeout,
			RequiredAcks:           config.RequiredAcks,
			AllowAutoTopicCreation: config.AutoCreate,
		},
	}, nil
}

// Publish blocks until the ChangeLog is acknowledged. The worker owns retries.
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	return k.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

// Close flushes and closes the writer
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
