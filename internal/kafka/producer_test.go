package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishSuccess(t *testing.T) {
	t.Skip("Requires a running Kafka broker")

	producer := NewProducer(ProducerConfig{
		Brokers:     []string{"localhost:9092"},
		Acks:        -1,
		Retries:     3,
		Idempotent:  true,
		BaseBackoff: 10 * time.Millisecond,
	})
	defer producer.Close()

	err := producer.Publish(context.Background(), "retrial-dead-letters", "orders", []byte(`{}`), map[string]string{
		HeaderEventType: EventTypeDeadLetter,
	})
	assert.NoError(t, err)
}

func TestProducer_IdempotentConfiguration(t *testing.T) {
	producer := NewProducer(ProducerConfig{
		Brokers:    []string{"localhost:9092"},
		Acks:       1,
		Retries:    3,
		Idempotent: true,
	})
	defer producer.Close()

	require.NotNil(t, producer.writer)
	assert.Equal(t, -1, int(producer.writer.RequiredAcks))
	assert.Equal(t, 10, producer.writer.MaxAttempts)
	assert.Equal(t, 3, producer.maxRetries)
	assert.Equal(t, 100*time.Millisecond, producer.baseBackoff)
}

func TestProducer_ContextCancellation(t *testing.T) {
	producer := NewProducer(ProducerConfig{
		Brokers:     []string{"localhost:9092"},
		Acks:        -1,
		MaxRetries:  5,
		BaseBackoff: 100 * time.Millisecond,
	})
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := producer.Publish(ctx, "retrial-dead-letters", "orders", []byte(`{}`), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockProducer_SimulateFailures(t *testing.T) {
	mock := NewMockProducer()
	mock.FailCount = 2

	ctx := context.Background()
	assert.Error(t, mock.Publish(ctx, "alerts", "orders", []byte("v"), nil))
	assert.Error(t, mock.Publish(ctx, "alerts", "orders", []byte("v"), nil))
	assert.NoError(t, mock.Publish(ctx, "alerts", "orders", []byte("v"), map[string]string{"h": "1"}))

	messages := mock.GetPublishedMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "alerts", messages[0].Topic)
	assert.Equal(t, "1", messages[0].Headers["h"])

	mock.Reset()
	assert.Empty(t, mock.GetPublishedMessages())
}

func TestMockProducer_CustomPublishFunc(t *testing.T) {
	mock := NewMockProducer()

	callCount := 0
	mock.PublishFunc = func(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
		callCount++
		if callCount < 2 {
			return fmt.Errorf("temporary error")
		}
		return nil
	}

	assert.Error(t, mock.Publish(context.Background(), "alerts", "orders", nil, nil))
	assert.NoError(t, mock.Publish(context.Background(), "alerts", "orders", nil, nil))
	assert.Equal(t, 2, callCount)
}
