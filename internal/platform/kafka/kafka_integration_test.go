//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certify/internal/platform/config"
	"certify/pkg/platform/audit"
	"certify/pkg/platform/audit/store/stream"
	"certify/pkg/testutil/containers"
)

func TestAuditEventsRoundTripThroughBroker(t *testing.T) {
	broker := containers.NewRedpandaContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.KafkaConfig{
		Brokers:    []string{broker.Broker},
		Topic:      "certify.test-events",
		ClientID:   "certify-test",
		Partitions: 1,
		Replicas:   1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	producer, err := NewProducer(ctx, cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, producer)
	defer producer.Close(ctx)
	require.NoError(t, producer.EnsureTopic(ctx, cfg.Topic, cfg.Partitions, cfg.Replicas))
	require.NoError(t, producer.EnsureTopic(ctx, cfg.Topic, cfg.Partitions, cfg.Replicas), "existing topic is not an error")

	sink := stream.NewSink(producer, cfg.Topic, stream.WithLogger(logger))
	require.NoError(t, sink.Append(ctx, audit.Event{
		ID:        "0b7f4e5a-2d8e-4b0e-9b59-0d7f4e7d9a10",
		Subject:   "0xabc",
		Action:    string(audit.EventCertificateIssued),
		Timestamp: time.Now(),
	}))

	consumer, err := NewConsumer(cfg, "certify-test-group", logger)
	require.NoError(t, err)
	defer consumer.Close()

	got := make(chan *Message, 1)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = consumer.Run(runCtx, HandlerFunc(func(_ context.Context, msg *Message) error {
			select {
			case got <- msg:
			default:
			}
			return nil
		}))
	}()

	select {
	case msg := <-got:
		require.Equal(t, "0xabc", string(msg.Key))
		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &body))
		require.Equal(t, "certificate_issued", body["action"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for the published event")
	}
}

func TestNewProducerDisabledWithoutBrokers(t *testing.T) {
	p, err := NewProducer(context.Background(), config.KafkaConfig{}, nil)
	require.NoError(t, err)
	require.Nil(t, p)
}
