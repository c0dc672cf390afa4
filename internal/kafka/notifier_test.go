package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go-retrial/internal/retrial"
	"go-retrial/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadLetterOutcome(cause error) retrial.Outcome {
	return retrial.Outcome{
		Kind:    retrial.DeadLettered,
		Attempt: 3,
		Target:  "orders.dead",
		Cause: &retrial.MaximumAttemptsExceededError{
			Destination: "orders",
			Attempts:    3,
			Cause:       cause,
		},
	}
}

func TestDeadLetterNotifier_PublishesAlert(t *testing.T) {
	mock := NewMockProducer()
	notifier := NewDeadLetterNotifier(mock, "retrial-dead-letters", nil)

	env := models.Envelope{MessageID: "msg-123"}
	notifier.ObserveDeadLetter(context.Background(), env, deadLetterOutcome(errors.New("invalid payload")))

	messages := mock.GetPublishedMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "retrial-dead-letters", messages[0].Topic)
	assert.Equal(t, "orders", messages[0].Key)
	assert.Equal(t, EventTypeDeadLetter, messages[0].Headers[HeaderEventType])
	assert.Equal(t, "msg-123", messages[0].Headers[HeaderMessageID])

	var alert DeadLetterAlert
	require.NoError(t, json.Unmarshal(messages[0].Value, &alert))
	assert.Equal(t, "msg-123", alert.MessageID)
	assert.Equal(t, "orders", alert.Destination)
	assert.Equal(t, "orders.dead", alert.DeadLetterQueue)
	assert.Equal(t, 3, alert.Attempts)
	assert.Equal(t, "invalid payload", alert.Reason)
	_, err := uuid.Parse(alert.EventID)
	assert.NoError(t, err)
}

func TestDeadLetterNotifier_PublishFailureIsSwallowed(t *testing.T) {
	mock := NewMockProducer()
	mock.FailCount = 1
	notifier := NewDeadLetterNotifier(mock, "retrial-dead-letters", nil)

	assert.NotPanics(t, func() {
		notifier.ObserveDeadLetter(context.Background(), models.Envelope{}, deadLetterOutcome(errors.New("boom")))
	})
	assert.Empty(t, mock.GetPublishedMessages())
}

func TestNewDeadLetterAlert_FallsBackToOriginalRoutingKey(t *testing.T) {
	env := models.Envelope{Headers: map[string]any{models.HeaderOriginalRoutingKey: "payments"}}

	alert := NewDeadLetterAlert(env, retrial.Outcome{Kind: retrial.DeadLettered, Target: "payments.dead"})

	assert.Equal(t, "payments", alert.Destination)
	assert.Empty(t, alert.Reason)
	assert.NotEqual(t, NewDeadLetterAlert(env, retrial.Outcome{}).EventID, alert.EventID)
}

func TestDeadLetterNotifier_Close(t *testing.T) {
	closed := false
	mock := NewMockProducer()
	mock.CloseFunc = func() error {
		closed = true
		return nil
	}

	require.NoError(t, NewDeadLetterNotifier(mock, "alerts", nil).Close())
	assert.True(t, closed)
}
