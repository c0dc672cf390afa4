package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"go-retrial/internal/retrial"
)

// Declarer is the subset of *amqp.Channel needed to provision a plan
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Provision declares every exchange, queue and binding of the plan, in order.
func Provision(ch Declarer, plan retrial.Plan) error {
	for _, ex := range plan.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, false, false, false, toTable(ex.Args)); err != nil {
			return &retrial.BrokerIOError{Op: "declare exchange " + ex.Name, Err: err}
		}
	}
	for _, q := range plan.Queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, toTable(q.Args)); err != nil {
			return &retrial.BrokerIOError{Op: "declare queue " + q.Name, Err: err}
		}
	}
	for _, b := range plan.Bindings {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return &retrial.BrokerIOError{Op: "bind queue " + b.Queue, Err: err}
		}
	}
	return nil
}
