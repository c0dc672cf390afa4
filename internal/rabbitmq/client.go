package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"go-retrial/internal/retrial"
)

type ClientConfig struct {
	URL            string
	ConnectionName string
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	Logger         *zap.Logger
}

// Client manages the AMQP connection with automatic reconnection
type Client struct {
	url         string
	name        string
	logger      *zap.Logger
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu   sync.RWMutex
	conn *amqp.Connection
}

// Dial opens the connection, retrying with exponential backoff.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	c := &Client{
		url:         cfg.URL,
		name:        cfg.ConnectionName,
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
	if err := c.reconnectWithBackoff(ctx, nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial() error {
	props := amqp.NewConnectionProperties()
	if c.name != "" {
		props.SetClientConnectionName(c.name)
	}

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: props,
	})
	if err != nil {
		return &retrial.BrokerIOError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()

	if old != nil && !old.IsClosed() {
		_ = old.Close()
	}
	return nil
}

// Channel opens a new channel on the current connection
func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, &retrial.BrokerIOError{Op: "channel", Err: amqp.ErrClosed}
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &retrial.BrokerIOError{Op: "channel", Err: err}
	}
	return ch, nil
}

// HealthCheck verifies the connection is still open
func (c *Client) HealthCheck() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.conn.IsClosed() {
		return &retrial.BrokerIOError{Op: "health check", Err: amqp.ErrClosed}
	}
	return nil
}

// HealthCheckLoop runs health checks periodically with reconnection logic
func (c *Client) HealthCheckLoop(ctx context.Context, interval time.Duration, onReconnect func() error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health check loop stopped")
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.logger.Warn("Health check failed, attempting reconnection", zap.Error(err))
				if err := c.reconnectWithBackoff(ctx, onReconnect); err != nil {
					c.logger.Error("Reconnection failed", zap.Error(err))
				}
			}
		}
	}
}

// reconnectWithBackoff implements exponential backoff reconnection strategy
func (c *Client) reconnectWithBackoff(ctx context.Context, onReconnect func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 0 {
			backoff := backoffFor(c.baseBackoff, c.maxBackoff, attempt-1)
			c.logger.Info("Attempting reconnection",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.dial(); err != nil {
			lastErr = err
			c.logger.Warn("Connection attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				lastErr = err
				c.logger.Warn("Reconnect callback failed", zap.Error(err))
				continue
			}
		}

		c.logger.Info("Connected to broker", zap.String("connection_name", c.name))
		return nil
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", c.maxRetries, lastErr)
}

// Close closes the connection and every channel opened on it
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func backoffFor(base, limit time.Duration, attempt int) time.Duration {
	return time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(attempt)),
		float64(limit),
	))
}
