package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-retrial/internal/observability"
	"go-retrial/internal/retrial"
	"go-retrial/pkg/models"

	"github.com/sirupsen/logrus"
)

var ErrInvalidOrder = errors.New("invalid order")

// Order is the payload carried by messages on the order destinations
type Order struct {
	OrderID  string  `json:"order_id"`
	Customer string  `json:"customer"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func (o Order) Validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrInvalidOrder)
	}
	if o.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if len(o.Currency) != 3 {
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidOrder)
	}
	return nil
}

// MessageProcessor handles business logic for processing messages
type MessageProcessor struct {
	logger *logrus.Logger
}

func NewMessageProcessor() *MessageProcessor {
	return &MessageProcessor{
		logger: observability.GetLogger(),
	}
}

// Process decodes and validates an order. Any error hands the message back to
// the retrial dispatcher.
func (p *MessageProcessor) Process(ctx context.Context, env models.Envelope) error {
	entry := p.logger.WithFields(logrus.Fields{
		"message_id": env.MessageID,
		"attempt":    retrial.ReadAttemptCount(env),
	})
	entry.Info("Processing message")

	if err := ctx.Err(); err != nil {
		return err
	}

	var order Order
	if err := json.Unmarshal(env.Body, &order); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}
	if err := order.Validate(); err != nil {
		return err
	}

	entry.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"amount":   order.Amount,
		"currency": order.Currency,
	}).Debug("Message processed successfully")

	return nil
}
