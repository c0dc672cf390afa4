package retrial

import (
	"maps"
	"slices"
	"strings"
	"time"

	"go-retrial/pkg/models"
)

// Destination is a queue consumers read from, with optional provisioning options.
type Destination struct {
	Name       string
	Durable    bool
	MessageTTL time.Duration
	Args       map[string]any
}

type Exchange struct {
	Name    string
	Kind    string
	Durable bool
	Args    map[string]any
}

type Queue struct {
	Name    string
	Durable bool
	Args    map[string]any
}

type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Plan is the full set of broker constructs the retrial protocol relies on.
// It is handed to a provisioner as is.
type Plan struct {
	Exchanges []Exchange
	Queues    []Queue
	Bindings  []Binding

	destinations []string
}

// Destinations returns the names consumers attach to, in plan order.
func (p Plan) Destinations() []string {
	return slices.Clone(p.destinations)
}

// DelayExchange is the shared exchange releasing messages after their x-delay.
func DelayExchange() Exchange {
	return Exchange{
		Name:    models.DelayedExchange,
		Kind:    models.DelayedKind,
		Durable: true,
		Args:    map[string]any{models.ArgDelayedType: "topic"},
	}
}

// RerouterQueue expires every message immediately into the default exchange,
// which routes it back to the queue named by its routing key.
func RerouterQueue() Queue {
	return Queue{
		Name:    models.RerouterQueue,
		Durable: true,
		Args: map[string]any{
			models.ArgMessageTTL:     int64(0),
			models.ArgDeadLetterExch: models.DefaultExchange,
		},
	}
}

// BuildPlan computes the provisioning plan for the explicit destinations and
// the names inferred from consumer registration. Neither input is modified.
func BuildPlan(explicit []Destination, inferred []string) (Plan, error) {
	plan := Plan{
		Exchanges: []Exchange{DelayExchange()},
		Queues:    []Queue{RerouterQueue()},
		Bindings: []Binding{{
			Queue:      models.RerouterQueue,
			Exchange:   models.DelayedExchange,
			RoutingKey: models.RerouterPattern,
		}},
	}

	requested := make([]Destination, 0, len(explicit)+len(inferred))
	seen := make(map[string]bool, len(explicit)+len(inferred))

	for _, d := range explicit {
		if err := validateName(d.Name); err != nil {
			return Plan{}, err
		}
		if seen[d.Name] {
			return Plan{}, &ConfigurationError{Name: d.Name, Reason: "declared more than once"}
		}
		seen[d.Name] = true
		requested = append(requested, d)
	}

	extra := slices.Clone(inferred)
	slices.Sort(extra)
	for _, name := range slices.Compact(extra) {
		if err := validateName(name); err != nil {
			return Plan{}, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		requested = append(requested, Destination{Name: name, Durable: true})
	}

	for _, d := range requested {
		if !IsDeadLetterName(d.Name) {
			continue
		}
		if base := strings.TrimSuffix(d.Name, models.DeadLetterSuffix); seen[base] {
			return Plan{}, &ConfigurationError{Name: d.Name, Reason: "collides with the dead-letter destination of " + base}
		}
	}

	for _, d := range requested {
		plan.Queues = append(plan.Queues, destinationQueue(d), Queue{
			Name:    DeadLetterName(d.Name),
			Durable: true,
		})
		plan.destinations = append(plan.destinations, d.Name)
	}

	return plan, nil
}

func validateName(name string) error {
	switch name {
	case "":
		return &ConfigurationError{Name: name, Reason: "name is required"}
	case models.RerouterQueue, models.DelayedExchange:
		return &ConfigurationError{Name: name, Reason: "name is reserved for the retrial protocol"}
	}
	return nil
}

func destinationQueue(d Destination) Queue {
	q := Queue{Name: d.Name, Durable: d.Durable}
	if len(d.Args) > 0 || d.MessageTTL > 0 {
		q.Args = make(map[string]any, len(d.Args)+1)
		maps.Copy(q.Args, d.Args)
	}
	if d.MessageTTL > 0 {
		q.Args[models.ArgMessageTTL] = d.MessageTTL.Milliseconds()
	}
	return q
}
