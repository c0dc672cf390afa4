package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-retrial/internal/retrial"
	"go-retrial/pkg/models"
)

// Alert header keys
const (
	HeaderEventType = "event-type"
	HeaderMessageID = "message-id"

	EventTypeDeadLetter = "retrial.dead-lettered"
)

// DeadLetterAlert is the event published for every dead-lettered message.
type DeadLetterAlert struct {
	EventID         string    `json:"event_id"`
	MessageID       string    `json:"message_id,omitempty"`
	Destination     string    `json:"destination"`
	DeadLetterQueue string    `json:"dead_letter_queue"`
	Attempts        int       `json:"attempts"`
	Reason          string    `json:"reason"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// DeadLetterNotifier fans dead-letter outcomes out to a Kafka topic so
// operators learn about them without polling the .dead queues.
type DeadLetterNotifier struct {
	producer ProducerClient
	topic    string
	logger   *zap.Logger
}

func NewDeadLetterNotifier(producer ProducerClient, topic string, logger *zap.Logger) *DeadLetterNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// ObserveDeadLetter publishes the alert. The message itself is already safe in
// its dead-letter queue, so a failed alert is logged and dropped.
func (n *DeadLetterNotifier) ObserveDeadLetter(ctx context.Context, env models.Envelope, outcome retrial.Outcome) {
	alert := NewDeadLetterAlert(env, outcome)

	value, err := json.Marshal(alert)
	if err != nil {
		n.logger.Error("Failed to encode dead-letter alert", zap.Error(err))
		return
	}

	headers := map[string]string{
		HeaderEventType: EventTypeDeadLetter,
		HeaderMessageID: alert.MessageID,
	}
	if err := n.producer.Publish(ctx, n.topic, alert.Destination, value, headers); err != nil {
		n.logger.Error("Failed to publish dead-letter alert",
			zap.String("event_id", alert.EventID),
			zap.String("destination", alert.Destination),
			zap.Error(err),
		)
	}
}

func NewDeadLetterAlert(env models.Envelope, outcome retrial.Outcome) DeadLetterAlert {
	alert := DeadLetterAlert{
		EventID:         uuid.NewString(),
		MessageID:       env.MessageID,
		DeadLetterQueue: outcome.Target,
		Attempts:        outcome.Attempt,
		OccurredAt:      time.Now().UTC(),
	}
	if outcome.Cause != nil {
		alert.Destination = outcome.Cause.Destination
		if outcome.Cause.Cause != nil {
			alert.Reason = outcome.Cause.Cause.Error()
		}
	}
	if alert.Destination == "" {
		alert.Destination = env.Header(models.HeaderOriginalRoutingKey)
	}
	return alert
}

// Close releases the underlying producer
func (n *DeadLetterNotifier) Close() error {
	return n.producer.Close()
}
