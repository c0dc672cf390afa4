package kafka

import (
	"context"
	"fmt"
	"sync"
)

// MockProducer is a mock implementation of ProducerClient for testing
type MockProducer struct {
	mu                sync.RWMutex
	PublishedMessages []PublishedMessage
	PublishFunc       func(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	CloseFunc         func() error
	FailCount         int
	failureCounter    int
}

type PublishedMessage struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func NewMockProducer() *MockProducer {
	return &MockProducer{
		PublishedMessages: make([]PublishedMessage, 0),
	}
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, key, value, headers)
	}

	if m.FailCount > 0 {
		m.failureCounter++
		if m.failureCounter <= m.FailCount {
			return fmt.Errorf("simulated publish failure %d", m.failureCounter)
		}
	}

	m.PublishedMessages = append(m.PublishedMessages, PublishedMessage{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	})

	return nil
}

func (m *MockProducer) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockProducer) GetPublishedMessages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]PublishedMessage, len(m.PublishedMessages))
	copy(messages, m.PublishedMessages)
	return messages
}

func (m *MockProducer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishedMessages = make([]PublishedMessage, 0)
	m.failureCounter = 0
}
