package rabbitmq

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"go-retrial/internal/observability"
	"go-retrial/internal/retrial"
	"go-retrial/pkg/models"
)

// ErrDeliveriesClosed is returned by Start when the broker closed the delivery stream.
var ErrDeliveriesClosed = errors.New("delivery channel closed by broker")

// DeliveryChannel is the subset of *amqp.Channel a consumer reads from
type DeliveryChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// DeadLetterObserver is told about every message moved to a dead-letter destination
type DeadLetterObserver interface {
	ObserveDeadLetter(ctx context.Context, env models.Envelope, outcome retrial.Outcome)
}

// Consumer reads one destination with a worker pool and settles every
// delivery through the retrial dispatcher
type Consumer struct {
	ch          DeliveryChannel
	dispatcher  *retrial.Dispatcher
	logger      *zap.Logger
	metrics     observability.MetricsCollector
	observer    DeadLetterObserver
	destination string
	consumerTag string
	workers     int
	prefetch    int
	wg          sync.WaitGroup
}

type ConsumerConfig struct {
	Destination   string
	ConsumerTag   string
	Workers       int
	PrefetchCount int
	Metrics       observability.MetricsCollector
	Observer      DeadLetterObserver
	Logger        *zap.Logger
}

func NewConsumer(ch DeliveryChannel, dispatcher *retrial.Dispatcher, cfg ConsumerConfig) *Consumer {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 5
	}
	if cfg.PrefetchCount == 0 {
		cfg.PrefetchCount = cfg.Workers * 2
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = cfg.Destination + ".consumer"
	}

	return &Consumer{
		ch:          ch,
		dispatcher:  dispatcher,
		logger:      cfg.Logger.With(zap.String("destination", cfg.Destination)),
		metrics:     cfg.Metrics,
		observer:    cfg.Observer,
		destination: cfg.Destination,
		consumerTag: cfg.ConsumerTag,
		workers:     cfg.Workers,
		prefetch:    cfg.PrefetchCount,
	}
}

// Start consumes until ctx is cancelled or the broker closes the stream.
// Deliveries that were fetched but not handled before shutdown are requeued.
func (c *Consumer) Start(ctx context.Context, handler retrial.HandlerFunc) error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return &retrial.BrokerIOError{Op: "qos", Err: err}
	}

	deliveries, err := c.ch.Consume(c.destination, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return &retrial.BrokerIOError{Op: "consume " + c.destination, Err: err}
	}

	c.logger.Info("Starting consumer",
		zap.Int("workers", c.workers),
		zap.Int("prefetch", c.prefetch),
		zap.Int("max_attempts", c.dispatcher.MaxAttempts()),
	)

	msgChan := make(chan amqp.Delivery, c.workers*2)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgChan, handler)
	}

	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- c.fetcher(ctx, deliveries, msgChan)
	}()

	// workers exit once the fetcher closes msgChan
	c.wg.Wait()
	return <-fetchErr
}

// fetcher reads deliveries from the broker and sends them to the worker pool
func (c *Consumer) fetcher(ctx context.Context, deliveries <-chan amqp.Delivery, msgChan chan<- amqp.Delivery) error {
	defer close(msgChan)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Fetcher stopping due to context cancellation")
			if err := c.ch.Cancel(c.consumerTag, false); err != nil {
				c.logger.Warn("Failed to cancel consumer", zap.Error(err))
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return ErrDeliveriesClosed
			}

			c.metrics.IncReceived(c.destination)

			select {
			case msgChan <- d:
			case <-ctx.Done():
				c.requeue(d)
			}
		}
	}
}

// worker processes deliveries from the channel
func (c *Consumer) worker(ctx context.Context, id int, msgChan <-chan amqp.Delivery, handler retrial.HandlerFunc) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", zap.Int("worker_id", id))

	for d := range msgChan {
		if ctx.Err() != nil {
			c.requeue(d)
			continue
		}
		c.processDelivery(ctx, d, handler, id)
	}
	c.logger.Debug("Worker stopping - channel closed", zap.Int("worker_id", id))
}

// processDelivery hands one delivery to the dispatcher and reports the outcome
func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery, handler retrial.HandlerFunc, workerID int) retrial.Outcome {
	env := fromDelivery(d)

	logger := c.logger.With(
		zap.String("message_id", env.MessageID),
		zap.Uint64("delivery_tag", d.DeliveryTag),
		zap.Int("attempt", retrial.ReadAttemptCount(env)),
		zap.Int("worker_id", workerID),
	)

	outcome, err := c.dispatcher.Handle(ctx, retrial.Delivery{
		Destination: c.destination,
		Envelope:    env,
		Acker:       deliveryAcker{delivery: d},
	}, handler)
	if err != nil {
		c.settleFailure(logger, d, outcome, err)
		return outcome
	}

	switch outcome.Kind {
	case retrial.Acknowledged:
		c.metrics.IncAcknowledged(c.destination)
		logger.Debug("Message processed successfully")
	case retrial.Rerouted:
		c.metrics.IncRerouted(c.destination)
		logger.Warn("Message processing failed, rerouted through delay exchange",
			zap.Int("next_attempt", outcome.Attempt),
			zap.Duration("delay", outcome.Delay),
		)
	case retrial.DeadLettered:
		c.metrics.IncDeadLettered(c.destination)
		logger.Error("Message sent to dead-letter destination",
			zap.String("target", outcome.Target),
			zap.Error(outcome.Cause),
		)
		if c.observer != nil {
			c.observer.ObserveDeadLetter(ctx, env, outcome)
		}
	}
	return outcome
}

// settleFailure handles a dispatch that could not complete. A failed publish
// leaves the original unacknowledged, so it is requeued rather than lost.
func (c *Consumer) settleFailure(logger *zap.Logger, d amqp.Delivery, outcome retrial.Outcome, err error) {
	var ioErr *retrial.BrokerIOError
	if errors.As(err, &ioErr) && ioErr.Op == "ack" {
		// the reroute or dead-letter copy is already out; the broker
		// redelivers the original when the channel closes
		logger.Error("Failed to acknowledge message", zap.String("outcome", outcome.Kind.String()), zap.Error(err))
		return
	}

	c.metrics.IncPublishFailed(c.destination)
	logger.Error("Failed to settle message, requeueing",
		zap.String("outcome", outcome.Kind.String()),
		zap.Error(err),
	)
	c.requeue(d)
}

func (c *Consumer) requeue(d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		c.logger.Error("Failed to requeue message", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}
