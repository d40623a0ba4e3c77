package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestTopic(t *testing.T, srv *pstest.Server, id string) *pubsub.Topic {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	topic, err := client.CreateTopic(ctx, id)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return topic
}

func TestPubSubPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	publisher, err := NewPubSubPublisher(newTestTopic(t, srv, "order-notifications"))
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Close()

	type notification struct {
		Event   string `json:"event"`
		OrderID string `json:"orderId"`
	}

	_, err = publisher.Publish(ctx, Message{
		Payload: notification{Event: "order-accepted", OrderID: "ord_1"},
		Attributes: map[string]string{
			"event":   "order-accepted",
			"orderId": "ord_1",
			"blank":   "  ",
		},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload notification
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Event != "order-accepted" || payload.OrderID != "ord_1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["event"]; attr != "order-accepted" {
		t.Fatalf("expected event attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["blank"]; ok {
		t.Fatalf("blank attribute should not be present")
	}
}

func TestPubSubPublisherRejectsUnmarshalablePayload(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()

	publisher, err := NewPubSubPublisher(newTestTopic(t, srv, "order-changes"))
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Close()

	if _, err := publisher.Publish(context.Background(), Message{Payload: make(chan int)}); err == nil {
		t.Fatal("expected marshal error")
	}
	if got := len(srv.Messages()); got != 0 {
		t.Fatalf("expected no messages, got %d", got)
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
