package rabbitmq

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MockAcknowledger records settlements made through amqp.Delivery
type MockAcknowledger struct {
	mu       sync.Mutex
	Acked    []uint64
	Nacked   []uint64
	Requeued []uint64
	AckErr   error
}

var _ amqp.Acknowledger = (*MockAcknowledger)(nil)

func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.Acked = append(m.Acked, tag)
	return nil
}

func (m *MockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Nacked = append(m.Nacked, tag)
	if requeue {
		m.Requeued = append(m.Requeued, tag)
	}
	return nil
}

func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Nack(tag, false, requeue)
}

// Counts returns the number of acks, nacks and requeues seen so far.
func (m *MockAcknowledger) Counts() (acks, nacks, requeues int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Acked), len(m.Nacked), len(m.Requeued)
}

// MockChannel is an in-memory DeliveryChannel and Declarer
type MockChannel struct {
	mu         sync.Mutex
	Deliveries chan amqp.Delivery
	Prefetch   int
	Consumed   []string
	Cancelled  []string
	Exchanges  []string
	Queues     []string
	QueueArgs  map[string]amqp.Table
	Bindings   []string
	ConsumeErr error
	DeclareErr error
}

var (
	_ DeliveryChannel = (*MockChannel)(nil)
	_ Declarer        = (*MockChannel)(nil)
)

func NewMockChannel(buffer int) *MockChannel {
	return &MockChannel{
		Deliveries: make(chan amqp.Delivery, buffer),
		QueueArgs:  make(map[string]amqp.Table),
	}
}

func (m *MockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prefetch = prefetchCount
	return nil
}

func (m *MockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	m.Consumed = append(m.Consumed, queue)
	return m.Deliveries, nil
}

func (m *MockChannel) Cancel(consumer string, noWait bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, consumer)
	return nil
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeclareErr != nil {
		return m.DeclareErr
	}
	m.Exchanges = append(m.Exchanges, name+":"+kind)
	return nil
}

func (m *MockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeclareErr != nil {
		return amqp.Queue{}, m.DeclareErr
	}
	m.Queues = append(m.Queues, name)
	m.QueueArgs[name] = args
	return amqp.Queue{Name: name}, nil
}

func (m *MockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bindings = append(m.Bindings, exchange+"->"+name+"["+key+"]")
	return nil
}
