package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tyemirov/healthsync/internal/records"
)

const (
	eventActivityNormalized = "activity.normalized"
	eventSleepNormalized    = "sleep.normalized"

	defaultKafkaBatchTimeout = 50 * time.Millisecond
	defaultKafkaWriteTimeout = 10 * time.Second
)

// MessageWriter publishes messages. Each message names its own topic.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaConfig configures the writer behind KafkaSink.
type KafkaConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// NewKafkaWriter builds a topic-less writer; KafkaSink stamps the topic on every message.
// Keys are hashed so one user's records share a partition.
func NewKafkaWriter(config KafkaConfig) *kafka.Writer {
	batchTimeout := config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultKafkaBatchTimeout
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultKafkaWriteTimeout
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
	}
}

type recordEvent struct {
	EventType  string                  `json:"event_type"`
	UserID     string                  `json:"user_id"`
	ProviderID string                  `json:"provider_id"`
	Activity   *records.ActivityRecord `json:"activity,omitempty"`
	Sleep      *records.SleepRecord    `json:"sleep,omitempty"`
}

// KafkaSink publishes one message per record, keyed by user so a user's records stay ordered
// within a partition.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaSink constructs a KafkaSink.
func NewKafkaSink(writer MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic}
}

// Write implements RecordSink.
func (sink *KafkaSink) Write(ctx context.Context, batch Batch) error {
	if batch.Empty() {
		return nil
	}
	messages, err := buildMessages(sink.topic, batch)
	if err != nil {
		return err
	}
	if err := sink.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("record_sink.write.kafka: %w", err)
	}
	return nil
}

func buildMessages(topic string, batch Batch) ([]kafka.Message, error) {
	messages := make([]kafka.Message, 0, len(batch.Activities)+len(batch.Sleep))
	for index := range batch.Activities {
		message, err := encodeEvent(topic, recordEvent{
			EventType:  eventActivityNormalized,
			UserID:     batch.UserID,
			ProviderID: batch.ProviderID,
			Activity:   &batch.Activities[index],
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	for index := range batch.Sleep {
		message, err := encodeEvent(topic, recordEvent{
			EventType:  eventSleepNormalized,
			UserID:     batch.UserID,
			ProviderID: batch.ProviderID,
			Sleep:      &batch.Sleep[index],
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func encodeEvent(topic string, event recordEvent) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("record_sink.encode: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(event.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "provider_id", Value: []byte(event.ProviderID)},
		},
	}, nil
}
