package retrial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-retrial/pkg/models"
)

// DefaultMaxAttempts bounds reroutes when no threshold is configured.
const DefaultMaxAttempts = 3

// HandlerFunc processes a delivered envelope
type HandlerFunc func(ctx context.Context, env models.Envelope) error

// Publisher sends an envelope to an exchange. The default exchange
// ("") routes directly to the queue named by routingKey.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, env models.Envelope) error
}

// Acker settles a delivery on the broker
type Acker interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is one consumption attempt of a message at a destination.
type Delivery struct {
	Destination string
	Envelope    models.Envelope
	Acker       Acker
}

// OutcomeKind tells how a delivery was settled.
type OutcomeKind int

const (
	Acknowledged OutcomeKind = iota
	Rerouted
	DeadLettered
)

func (k OutcomeKind) String() string {
	switch k {
	case Acknowledged:
		return "acknowledged"
	case Rerouted:
		return "rerouted"
	case DeadLettered:
		return "dead-lettered"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the decision taken for a delivery.
type Outcome struct {
	Kind OutcomeKind

	// Attempt is the attempt count written on a rerouted message, or the
	// count carried by a dead-lettered one.
	Attempt int
	Delay   time.Duration
	Target  string

	// Cause is set only for DeadLettered.
	Cause *MaximumAttemptsExceededError
}

// DispatcherConfig configures a Dispatcher. A negative MaxAttempts means
// DefaultMaxAttempts; zero dead-letters on the first failure.
type DispatcherConfig struct {
	Publisher   Publisher
	MaxAttempts int
	Backoff     Backoff
}

// Dispatcher drives the reroute or dead-letter decision for failed deliveries.
// It holds no per-message state and is safe for concurrent use.
type Dispatcher struct {
	publisher   Publisher
	maxAttempts int
	backoff     Backoff
}

// NewDispatcher creates a dispatcher publishing through cfg.Publisher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		publisher:   cfg.Publisher,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

// MaxAttempts returns the configured reroute threshold
func (d *Dispatcher) MaxAttempts() int {
	return d.maxAttempts
}

// Handle runs handler and settles the delivery according to its result.
func (d *Dispatcher) Handle(ctx context.Context, delivery Delivery, handler HandlerFunc) (Outcome, error) {
	if err := invoke(ctx, handler, delivery.Envelope.Clone()); err != nil {
		return d.Fail(ctx, delivery, err)
	}

	outcome := Outcome{Kind: Acknowledged, Attempt: ReadAttemptCount(delivery.Envelope)}
	if err := delivery.Acker.Ack(); err != nil {
		return outcome, &BrokerIOError{Op: "ack", Err: err}
	}
	return outcome, nil
}

// Fail settles a delivery whose handler failed with cause. The original
// message is acknowledged only after the reroute or dead-letter publish
// succeeded; on error the delivery is left for the caller to nack.
func (d *Dispatcher) Fail(ctx context.Context, delivery Delivery, cause error) (Outcome, error) {
	if cause == nil {
		cause = errors.New("handler failed without a cause")
	}

	attempts := ReadAttemptCount(delivery.Envelope)
	var outcome Outcome
	var err error
	if attempts+1 <= d.maxAttempts {
		outcome, err = d.reroute(ctx, delivery)
	} else {
		outcome, err = d.deadLetter(ctx, delivery, attempts, cause)
	}
	if err != nil {
		return outcome, err
	}

	if err := delivery.Acker.Ack(); err != nil {
		return outcome, &BrokerIOError{Op: "ack", Err: err}
	}
	return outcome, nil
}

func (d *Dispatcher) reroute(ctx context.Context, delivery Delivery) (Outcome, error) {
	next := WithIncrementedAttempt(delivery.Envelope, delivery.Destination)
	attempt := ReadAttemptCount(next)
	delay := d.backoff.Delay(attempt)
	next.Headers[models.HeaderDelay] = delay.Milliseconds()

	outcome := Outcome{
		Kind:    Rerouted,
		Attempt: attempt,
		Delay:   delay,
		Target:  models.DelayedExchange,
	}
	if err := d.publish(ctx, models.DelayedExchange, delivery.Destination, next); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, delivery Delivery, attempts int, cause error) (Outcome, error) {
	origin := originalRoutingKey(delivery.Envelope, delivery.Destination)
	target := DeadLetterName(origin)

	dead := delivery.Envelope.Clone()
	dead.Headers[models.HeaderDeadLetterReason] = cause.Error()
	dead.Headers[models.HeaderOriginalRoutingKey] = origin
	delete(dead.Headers, models.HeaderDelay)

	outcome := Outcome{
		Kind:    DeadLettered,
		Attempt: attempts,
		Target:  target,
		Cause: &MaximumAttemptsExceededError{
			Destination: origin,
			Attempts:    attempts,
			Cause:       cause,
		},
	}
	err := d.publish(ctx, models.DefaultExchange, target, dead)
	if errors.Is(err, ErrUnroutable) && origin != delivery.Destination {
		// the recorded origin has no dead-letter queue; keep the message
		// with the destination it was consumed from
		outcome.Target = DeadLetterName(delivery.Destination)
		err = d.publish(ctx, models.DefaultExchange, outcome.Target, dead)
	}
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (d *Dispatcher) publish(ctx context.Context, exchange, routingKey string, env models.Envelope) error {
	if err := ctx.Err(); err != nil {
		return &BrokerIOError{Op: "publish", Err: fmt.Errorf("%w: %w", ErrShuttingDown, err)}
	}
	if err := d.publisher.Publish(ctx, exchange, routingKey, env); err != nil {
		var ioErr *BrokerIOError
		if errors.As(err, &ioErr) {
			return err
		}
		return &BrokerIOError{Op: "publish", Err: err}
	}
	return nil
}

func invoke(ctx context.Context, handler HandlerFunc, env models.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, env)
}
