package observability

import (
	"sync"
	"sync/atomic"
)

// MetricsCollector provides hooks for retrial metrics collection
type MetricsCollector interface {
	IncReceived(destination string)
	IncAcknowledged(destination string)
	IncRerouted(destination string)
	IncDeadLettered(destination string)
	IncPublishFailed(destination string)
}

// InMemoryMetrics is a simple in-memory implementation for testing/demo
type InMemoryMetrics struct {
	Received      atomic.Int64
	Acknowledged  atomic.Int64
	Rerouted      atomic.Int64
	DeadLettered  atomic.Int64
	PublishFailed atomic.Int64

	mu             sync.Mutex
	perDestination map[string]int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{perDestination: make(map[string]int64)}
}

func (m *InMemoryMetrics) IncReceived(destination string) {
	m.Received.Add(1)
	m.mu.Lock()
	m.perDestination[destination]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) IncAcknowledged(string) {
	m.Acknowledged.Add(1)
}

func (m *InMemoryMetrics) IncRerouted(string) {
	m.Rerouted.Add(1)
}

func (m *InMemoryMetrics) IncDeadLettered(string) {
	m.DeadLettered.Add(1)
}

func (m *InMemoryMetrics) IncPublishFailed(string) {
	m.PublishFailed.Add(1)
}

func (m *InMemoryMetrics) GetReceived() int64 {
	return m.Received.Load()
}

// GetReceivedFor returns the deliveries received on one destination
func (m *InMemoryMetrics) GetReceivedFor(destination string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perDestination[destination]
}

func (m *InMemoryMetrics) GetAcknowledged() int64 {
	return m.Acknowledged.Load()
}

func (m *InMemoryMetrics) GetRerouted() int64 {
	return m.Rerouted.Load()
}

func (m *InMemoryMetrics) GetDeadLettered() int64 {
	return m.DeadLettered.Load()
}

func (m *InMemoryMetrics) GetPublishFailed() int64 {
	return m.PublishFailed.Load()
}
