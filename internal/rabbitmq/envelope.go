package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"go-retrial/pkg/models"
)

// toTable converts header values to types the AMQP field table encoder accepts.
func toTable(values map[string]any) amqp.Table {
	if len(values) == 0 {
		return nil
	}
	table := make(amqp.Table, len(values))
	for k, v := range values {
		table[k] = toField(v)
	}
	return table
}

func toField(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case uint:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case time.Duration:
		return n.Milliseconds()
	case map[string]any:
		return toTable(n)
	case []any:
		out := make([]any, len(n))
		for i := range n {
			out[i] = toField(n[i])
		}
		return out
	case []string:
		out := make([]any, len(n))
		for i := range n {
			out[i] = n[i]
		}
		return out
	}
	return v
}

func fromTable(table amqp.Table) map[string]any {
	headers := make(map[string]any, len(table))
	for k, v := range table {
		if nested, ok := v.(amqp.Table); ok {
			headers[k] = fromTable(nested)
			continue
		}
		headers[k] = v
	}
	return headers
}

func toPublishing(env models.Envelope) amqp.Publishing {
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		Headers:      toTable(env.Headers),
		ContentType:  env.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    env.MessageID,
		Timestamp:    ts,
		Body:         env.Body,
	}
}

func fromDelivery(d amqp.Delivery) models.Envelope {
	return models.Envelope{
		MessageID:   d.MessageId,
		ContentType: d.ContentType,
		Body:        d.Body,
		Headers:     fromTable(d.Headers),
		Timestamp:   d.Timestamp,
	}
}

// deliveryAcker settles a single amqp delivery
type deliveryAcker struct {
	delivery amqp.Delivery
}

func (a deliveryAcker) Ack() error {
	return a.delivery.Ack(false)
}

func (a deliveryAcker) Nack(requeue bool) error {
	return a.delivery.Nack(false, requeue)
}
