package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/state"
)

// Kafka produces each message to a topic, keyed by stream name so one
// stream's records stay ordered within a partition.
type Kafka struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

// NewKafka parses a kafka://broker:port/topic URL; query parameters pass
// through to the producer config.
func NewKafka(ctx context.Context, uri *url.URL, logger *zap.Logger) (*Kafka, error) {
	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("topic must be specified in URL path")
	}

	brokers := uri.Host
	if uri.Port() != "" && !strings.Contains(brokers, ":") {
		brokers = fmt.Sprintf("%s:%s", uri.Hostname(), uri.Port())
	}

	config := kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "adsync-emitter",

		"acks":             "1",
		"retries":          "3",
		"batch.size":       "16384",
		"linger.ms":        "5",
		"compression.type": "snappy",
	}

	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}

	producer, err := kafka.NewProducer(&config)
	if err != nil {
		return nil, err
	}

	k := &Kafka{
		config:   config,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	go func() {
		defer logger.Info("producer event loop closed")

		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					logger.Error("delivery failed", zap.Error(ev.TopicPartition.Error))
				} else {
					logger.Debug("message delivered",
						zap.String("topic", *ev.TopicPartition.Topic),
						zap.Int32("partition", ev.TopicPartition.Partition),
						zap.Int64("offset", int64(ev.TopicPartition.Offset)))
				}
			case kafka.Error:
				logger.Error("producer error", zap.Error(ev))
			}
		}
	}()

	logger.Info("kafka emitter connected",
		zap.String("topic", topic),
		zap.String("brokers", brokers))

	return k, nil
}

func (k *Kafka) produce(key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
}

func (k *Kafka) WriteSchema(stream string, schema map[string]any, keyProperties []string, bookmarkKey string) error {
	msg := schemaMessage{
		Type:          "SCHEMA",
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	}
	if bookmarkKey != "" {
		msg.BookmarkProperties = []string{bookmarkKey}
	}
	return k.produce(stream, msg)
}

func (k *Kafka) WriteRecord(stream string, record map[string]any, extracted time.Time) error {
	return k.produce(stream, recordMessage{
		Type:          "RECORD",
		Stream:        stream,
		Record:        record,
		TimeExtracted: extracted.UTC().Format(time.RFC3339),
	})
}

func (k *Kafka) WriteState(doc state.Document) error {
	return k.produce("state", stateMessage{
		Type:  "STATE",
		Value: doc,
	})
}

func (k *Kafka) Close(ctx context.Context) error {
	k.producer.Flush(5000)
	k.producer.Close()
	return nil
}
