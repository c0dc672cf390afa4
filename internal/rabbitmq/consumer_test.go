package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-retrial/internal/observability"
	"go-retrial/internal/retrial"
	"go-retrial/pkg/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []retrial.Outcome
}

func (r *recordingObserver) ObserveDeadLetter(ctx context.Context, env models.Envelope, outcome retrial.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func newTestConsumer(ch *MockChannel, publisher retrial.Publisher, maxAttempts int, metrics observability.MetricsCollector, observer DeadLetterObserver) *Consumer {
	dispatcher := retrial.NewDispatcher(retrial.DispatcherConfig{
		Publisher:   publisher,
		MaxAttempts: maxAttempts,
		Backoff:     retrial.Backoff{Initial: time.Second, Max: time.Minute, Factor: 2},
	})
	return NewConsumer(ch, dispatcher, ConsumerConfig{
		Destination: "orders",
		Workers:     2,
		Metrics:     metrics,
		Observer:    observer,
	})
}

func newDelivery(acker amqp.Acknowledger, tag uint64, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  tag,
		MessageId:    "msg-123",
		RoutingKey:   "orders",
		Headers:      headers,
		Body:         []byte(`{"id":1}`),
	}
}

func TestConsumer_ProcessDelivery_Success(t *testing.T) {
	acker := &MockAcknowledger{}
	metrics := observability.NewInMemoryMetrics()
	publisher := retrial.NewMockPublisher()
	consumer := newTestConsumer(NewMockChannel(1), publisher, 3, metrics, nil)

	handlerCalled := false
	outcome := consumer.processDelivery(context.Background(), newDelivery(acker, 7, nil),
		func(ctx context.Context, env models.Envelope) error {
			handlerCalled = true
			assert.Equal(t, "msg-123", env.MessageID)
			assert.Equal(t, []byte(`{"id":1}`), env.Body)
			return nil
		}, 0)

	assert.True(t, handlerCalled)
	assert.Equal(t, retrial.Acknowledged, outcome.Kind)
	assert.Equal(t, []uint64{7}, acker.Acked)
	assert.Equal(t, int64(1), metrics.GetAcknowledged())
	assert.Len(t, publisher.GetPublishedMessages(), 0)
}

func TestConsumer_ProcessDelivery_Reroute(t *testing.T) {
	acker := &MockAcknowledger{}
	metrics := observability.NewInMemoryMetrics()
	publisher := retrial.NewMockPublisher()
	consumer := newTestConsumer(NewMockChannel(1), publisher, 3, metrics, nil)

	outcome := consumer.processDelivery(context.Background(), newDelivery(acker, 1, amqp.Table{"trace": "abc"}),
		func(ctx context.Context, env models.Envelope) error {
			return errors.New("temporary failure")
		}, 0)

	assert.Equal(t, retrial.Rerouted, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempt)
	assert.Equal(t, int64(1), metrics.GetRerouted())

	published := publisher.GetPublishedMessages()
	require.Len(t, published, 1)
	assert.Equal(t, models.DelayedExchange, published[0].Exchange)
	assert.Equal(t, "orders", published[0].RoutingKey)
	assert.Equal(t, "abc", published[0].Envelope.Header("trace"))
	assert.Equal(t, []uint64{1}, acker.Acked)
}

func TestConsumer_ProcessDelivery_DeadLetterNotifiesObserver(t *testing.T) {
	acker := &MockAcknowledger{}
	metrics := observability.NewInMemoryMetrics()
	publisher := retrial.NewMockPublisher()
	observer := &recordingObserver{}
	consumer := newTestConsumer(NewMockChannel(1), publisher, 3, metrics, observer)

	headers := amqp.Table{
		models.HeaderAttemptCount:       int32(3),
		models.HeaderOriginalRoutingKey: "orders",
	}
	outcome := consumer.processDelivery(context.Background(), newDelivery(acker, 2, headers),
		func(ctx context.Context, env models.Envelope) error {
			return errors.New("permanent failure")
		}, 0)

	assert.Equal(t, retrial.DeadLettered, outcome.Kind)
	assert.Equal(t, int64(1), metrics.GetDeadLettered())
	require.Len(t, observer.outcomes, 1)
	assert.Equal(t, "orders.dead", observer.outcomes[0].Target)

	published := publisher.GetPublishedMessages()
	require.Len(t, published, 1)
	assert.Equal(t, "orders.dead", published[0].RoutingKey)
	assert.Equal(t, []uint64{2}, acker.Acked)
}

func TestConsumer_ProcessDelivery_PublishFailureRequeues(t *testing.T) {
	acker := &MockAcknowledger{}
	metrics := observability.NewInMemoryMetrics()
	publisher := retrial.NewMockPublisher()
	publisher.FailCount = 1
	consumer := newTestConsumer(NewMockChannel(1), publisher, 3, metrics, nil)

	consumer.processDelivery(context.Background(), newDelivery(acker, 3, nil),
		func(ctx context.Context, env models.Envelope) error {
			return errors.New("temporary failure")
		}, 0)

	assert.Empty(t, acker.Acked)
	assert.Equal(t, []uint64{3}, acker.Requeued)
	assert.Equal(t, int64(1), metrics.GetPublishFailed())
	assert.Equal(t, int64(0), metrics.GetRerouted())
}

func TestConsumer_ProcessDelivery_AckFailureDoesNotRequeue(t *testing.T) {
	acker := &MockAcknowledger{AckErr: errors.New("channel closed")}
	metrics := observability.NewInMemoryMetrics()
	publisher := retrial.NewMockPublisher()
	consumer := newTestConsumer(NewMockChannel(1), publisher, 3, metrics, nil)

	consumer.processDelivery(context.Background(), newDelivery(acker, 4, nil),
		func(ctx context.Context, env models.Envelope) error {
			return errors.New("temporary failure")
		}, 0)

	// the rerouted copy is out, so requeueing the original would duplicate it
	assert.Empty(t, acker.Nacked)
	assert.Len(t, publisher.GetPublishedMessages(), 1)
	assert.Equal(t, int64(0), metrics.GetPublishFailed())
}

func TestConsumer_StartProcessesUntilCancelled(t *testing.T) {
	ch := NewMockChannel(10)
	acker := &MockAcknowledger{}
	metrics := observability.NewInMemoryMetrics()
	consumer := newTestConsumer(ch, retrial.NewMockPublisher(), 3, metrics, nil)

	for tag := uint64(1); tag <= 5; tag++ {
		ch.Deliveries <- newDelivery(acker, tag, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(ctx, func(ctx context.Context, env models.Envelope) error {
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		acks, _, _ := acker.Counts()
		return acks == 5
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}

	assert.Equal(t, int64(5), metrics.GetReceivedFor("orders"))
	assert.Equal(t, []string{"orders"}, ch.Consumed)
	assert.Equal(t, []string{"orders.consumer"}, ch.Cancelled)
	assert.Equal(t, 4, ch.Prefetch)
}

func TestConsumer_StartReturnsWhenBrokerClosesDeliveries(t *testing.T) {
	ch := NewMockChannel(1)
	close(ch.Deliveries)
	consumer := newTestConsumer(ch, retrial.NewMockPublisher(), 3, nil, nil)

	err := consumer.Start(context.Background(), func(ctx context.Context, env models.Envelope) error {
		return nil
	})

	assert.ErrorIs(t, err, ErrDeliveriesClosed)
}

func TestConsumer_StartConsumeFailureIsBrokerIO(t *testing.T) {
	ch := NewMockChannel(1)
	ch.ConsumeErr = errors.New("NOT_FOUND - no queue 'orders'")
	consumer := newTestConsumer(ch, retrial.NewMockPublisher(), 3, nil, nil)

	err := consumer.Start(context.Background(), func(ctx context.Context, env models.Envelope) error {
		return nil
	})

	require.Error(t, err)
	assert.True(t, retrial.IsBrokerIO(err))
}
