package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
)

// Message is a JSON payload plus routing attributes published to a topic.
type Message struct {
	Payload    any
	Attributes map[string]string
	// OrderingKey is only honoured when the topic has message ordering enabled.
	OrderingKey string
}

// PubSubPublisher publishes JSON messages to a Pub/Sub topic and waits for the server ack.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a publisher bound to topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish enqueues msg and returns the server-assigned message id.
func (p *PubSubPublisher) Publish(ctx context.Context, msg Message) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}

	data, err := p.marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", p.topic.ID(), err)
	}

	attrs := make(map[string]string, len(msg.Attributes))
	for key, value := range msg.Attributes {
		SetAttr(attrs, key, value)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(msg.OrderingKey),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s message: %w", p.topic.ID(), err)
	}
	return id, nil
}

// Close flushes pending messages and stops the topic's background goroutines.
func (p *PubSubPublisher) Close() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// SetAttr stores value under key when it is not blank.
func SetAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
