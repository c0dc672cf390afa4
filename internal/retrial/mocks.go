package retrial

import (
	"context"
	"fmt"
	"sync"

	"go-retrial/pkg/models"
)

// MockPublisher is a mock implementation of Publisher for testing
type MockPublisher struct {
	mu                sync.RWMutex
	PublishedMessages []PublishedMessage
	PublishFunc       func(ctx context.Context, exchange, routingKey string, env models.Envelope) error
	FailCount         int
	failureCounter    int
}

type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Envelope   models.Envelope
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedMessages: make([]PublishedMessage, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, exchange, routingKey string, env models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, exchange, routingKey, env); err != nil {
			return err
		}
	} else if m.FailCount > 0 {
		m.failureCounter++
		if m.failureCounter <= m.FailCount {
			return fmt.Errorf("simulated publish failure %d", m.failureCounter)
		}
	}

	m.PublishedMessages = append(m.PublishedMessages, PublishedMessage{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Envelope:   env,
	})
	return nil
}

func (m *MockPublisher) GetPublishedMessages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]PublishedMessage, len(m.PublishedMessages))
	copy(messages, m.PublishedMessages)
	return messages
}

func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishedMessages = make([]PublishedMessage, 0)
	m.failureCounter = 0
}

// MockAcker records how a delivery was settled
type MockAcker struct {
	mu       sync.Mutex
	Acks     int
	Nacks    int
	Requeued bool
	AckErr   error
	NackErr  error
}

func (m *MockAcker) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.Acks++
	return nil
}

func (m *MockAcker) Nack(requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NackErr != nil {
		return m.NackErr
	}
	m.Nacks++
	m.Requeued = requeue
	return nil
}

func (m *MockAcker) Settled() (acks, nacks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Acks, m.Nacks
}
