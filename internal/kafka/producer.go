package kafka

import (
	"context"
	"fmt"
	"math"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ProducerClient defines the interface for Kafka producer operations
type ProducerClient interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	Close() error
}

// Producer implements ProducerClient with delivery guarantees and retry logic
type Producer struct {
	writer      *kafka.Writer
	logger      *zap.Logger
	maxRetries  int
	baseBackoff time.Duration
}

type ProducerConfig struct {
	Brokers     []string
	Acks        int // -1 for all, 0 for none, 1 for leader
	Retries     int
	Idempotent  bool
	MaxRetries  int
	BaseBackoff time.Duration
	Logger      *zap.Logger
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		MaxAttempts:            cfg.Retries,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: false,
		Async:                  false,
	}

	if cfg.Idempotent {
		writer.RequiredAcks = kafka.RequireAll
		writer.MaxAttempts = 10
	}

	return &Producer{
		writer:      writer,
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
}

// Publish sends a message to Kafka, retrying with exponential backoff
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}

	if headers != nil {
		msg.Headers = make([]kafka.Header, 0, len(headers))
		for k, v := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{
				Key:   k,
				Value: []byte(v),
			})
		}
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 0 {
			backoff := time.Duration(math.Min(
				float64(p.baseBackoff)*math.Pow(2, float64(attempt-1)),
				float64(5*time.Second),
			))

			p.logger.Info("Retrying alert publish",
				zap.Int("attempt", attempt),
				zap.String("topic", topic),
				zap.String("key", key),
				zap.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.logger.Debug("Alert published",
				zap.String("topic", topic),
				zap.String("key", key),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}

		lastErr = err
		p.logger.Warn("Failed to publish alert",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", p.maxRetries+1, lastErr)
}

// Close gracefully shuts down the producer
func (p *Producer) Close() error {
	p.logger.Info("Closing alert producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}
