//go:build integration

package changes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

func TestKafkaSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("fulfillment-test"))
	if err != nil {
		t.Skipf("kafka container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	const topic = "order-changes"
	writer, err := NewKafkaWriter(brokers, topic, zap.NewNop())
	require.NoError(t, err)
	sink, err := NewKafkaSink(writer, topic)
	require.NoError(t, err)

	hub := NewHub(HubOptions{Sinks: []Sink{sink}})
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		hub.Run(runCtx)
		close(done)
	}()

	event := NewEvent(KindInsert, "ord_kafka", "SC-2026-000042", nil, time.Now())
	hub.Publish(ctx, event)

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, Partition: 0, MinBytes: 1, MaxBytes: 1 << 20})
	defer reader.Close()
	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "ord_kafka", string(msg.Key))

	var decoded ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, event.ID, decoded.ID)

	stop()
	<-done
}
