package changes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/spiritcandles/fulfillment/internal/platform/jobs"
	"github.com/spiritcandles/fulfillment/internal/platform/observability"
)

// Publisher is the Pub/Sub transport used by PubSubSink.
type Publisher interface {
	Publish(ctx context.Context, msg jobs.Message) (string, error)
}

// PubSubSink forwards events to a Pub/Sub topic.
type PubSubSink struct {
	publisher Publisher
	closer    func()
}

// NewPubSubSink wraps publisher. closer, when set, runs on Close.
func NewPubSubSink(publisher Publisher, closer func()) (*PubSubSink, error) {
	if publisher == nil {
		return nil, errors.New("pubsub sink: publisher is required")
	}
	return &PubSubSink{publisher: publisher, closer: closer}, nil
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) Write(ctx context.Context, event ChangeEvent) error {
	attrs := map[string]string{}
	jobs.SetAttr(attrs, "kind", string(event.Kind))
	jobs.SetAttr(attrs, "orderId", event.OrderID)
	jobs.SetAttr(attrs, "source", event.Source)
	_, err := s.publisher.Publish(ctx, jobs.Message{Payload: event, Attributes: attrs})
	return err
}

func (s *PubSubSink) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events keyed by order id so a partition sees one order's changes in order.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter builds a writer that waits for all in-sync replicas.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) (*kafka.Writer, error) {
	addrs := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka sink: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka sink: topic is required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  strings.TrimSpace(topic),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Logger:                 kafka.LoggerFunc(observability.NewDebugPrintfAdapter(logger).Printf),
		ErrorLogger:            kafka.LoggerFunc(observability.NewPrintfAdapter(logger).Printf),
	}, nil
}

// NewKafkaSink wraps writer. topic is only used for diagnostics when the writer pins its own topic.
func NewKafkaSink(writer MessageWriter, topic string) (*KafkaSink, error) {
	if writer == nil {
		return nil, errors.New("kafka sink: writer is required")
	}
	return &KafkaSink{writer: writer, topic: topic}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, event ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka sink: encode event %s: %w", event.ID, err)
	}
	headers := []kafka.Header{
		{Key: "event_kind", Value: []byte(event.Kind)},
		{Key: "event_id", Value: []byte(event.ID)},
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for key, value := range carrier {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   payload,
		Headers: headers,
		Time:    event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("kafka sink: write to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
