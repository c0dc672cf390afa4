package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"go-retrial/internal/retrial"
	"go-retrial/pkg/models"
)

// ErrNotConfirmed is returned when the broker nacks a publish
var ErrNotConfirmed = errors.New("publish was not confirmed by the broker")

type PublisherConfig struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// Publisher implements retrial.Publisher on a channel in confirm mode.
// Publish returns only once the broker confirmed the message. Publishes to
// the default exchange are mandatory: a message no queue accepts is reported
// as retrial.ErrUnroutable instead of being dropped.
type Publisher struct {
	mu      sync.Mutex
	ch      *amqp.Channel
	logger  *zap.Logger
	timeout time.Duration
	closed  bool

	// held from publish to confirm for mandatory publishes, so a return
	// always belongs to the publish waiting on it
	mandatoryMu sync.Mutex
	returns     chan amqp.Return
}

var _ retrial.Publisher = (*Publisher)(nil)

func NewPublisher(ch *amqp.Channel, cfg PublisherConfig) (*Publisher, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if err := ch.Confirm(false); err != nil {
		return nil, &retrial.BrokerIOError{Op: "confirm", Err: err}
	}
	return &Publisher{
		ch:      ch,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
		returns: ch.NotifyReturn(make(chan amqp.Return, 8)),
	}, nil
}

// Publish sends env and waits for the broker confirmation
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, env models.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	mandatory := exchange == models.DefaultExchange
	if mandatory {
		p.mandatoryMu.Lock()
		defer p.mandatoryMu.Unlock()
		drainReturns(p.returns)
	}

	confirm, err := p.publish(ctx, exchange, routingKey, mandatory, env)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return &retrial.BrokerIOError{Op: "publish", Err: fmt.Errorf("waiting for confirm: %w", err)}
	}
	if !acked {
		return &retrial.BrokerIOError{Op: "publish", Err: ErrNotConfirmed}
	}
	// the broker sends basic.return before the confirm of the same message
	if mandatory {
		if err := returned(p.returns); err != nil {
			return err
		}
	}

	p.logger.Debug("Message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.String("message_id", env.MessageID),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, mandatory bool, env models.Envelope) (*amqp.DeferredConfirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.ch.IsClosed() {
		return nil, &retrial.BrokerIOError{Op: "publish", Err: retrial.ErrShuttingDown}
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, mandatory, false, toPublishing(env))
	if err != nil {
		return nil, &retrial.BrokerIOError{Op: "publish", Err: err}
	}
	return confirm, nil
}

// Close refuses further publishes and closes the channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("Closing publisher")
	p.closed = true
	if p.ch.IsClosed() {
		return nil
	}
	if err := p.ch.Close(); err != nil {
		return fmt.Errorf("failed to close publisher: %w", err)
	}
	return nil
}

// returned reports a pending basic.return as an unroutable publish
func returned(returns <-chan amqp.Return) error {
	select {
	case ret, ok := <-returns:
		if !ok {
			return &retrial.BrokerIOError{Op: "publish", Err: amqp.ErrClosed}
		}
		return &retrial.BrokerIOError{
			Op:  "publish",
			Err: fmt.Errorf("%w: %q returned %d %s", retrial.ErrUnroutable, ret.RoutingKey, ret.ReplyCode, ret.ReplyText),
		}
	default:
		return nil
	}
}

// drainReturns drops returns left over from publishes that gave up waiting
func drainReturns(returns <-chan amqp.Return) {
	for {
		select {
		case _, ok := <-returns:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
