package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Taskflow/internal/domain"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeEvents   Exchange = "taskflow.events"
	ExchangeTriggers Exchange = "taskflow.triggers"
	ExchangeDLQ      Exchange = "taskflow.dlq"
)

const (
	QueueOrchestrateRequests Queue = "orchestrate.requests"
	QueueDLQTriggers         Queue = "dlq.triggers"
)

const (
	RoutingKeyOrchestrate RoutingKey = "orchestrate"
	RoutingKeyDLQTriggers RoutingKey = "triggers"
)

// EventRoutingKey возвращает ключ, с которым событие уходит в taskflow.events.
// Потребители подписываются шаблонами вида "entry.*" или "process.#".
func EventRoutingKey(t domain.EventType) RoutingKey {
	return RoutingKey(t)
}

// ExchangeSpec описывает обменник.
type ExchangeSpec struct {
	Name Exchange
	Kind string
}

// QueueSpec описывает очередь.
type QueueSpec struct {
	Name Queue
	Args amqp.Table
}

// BindingSpec описывает привязку очереди к обменнику.
type BindingSpec struct {
	Queue      Queue
	RoutingKey RoutingKey
	Exchange   Exchange
}

// Topology — полный набор объектов брокера.
type Topology struct {
	Exchanges []ExchangeSpec
	Queues    []QueueSpec
	Bindings  []BindingSpec
}

// DefaultTopology возвращает топологию Taskflow.
//
// Очередь событий не объявляется: каждый потребитель событий
// заводит свою очередь и привязку к taskflow.events.
func DefaultTopology() Topology {
	return Topology{
		Exchanges: []ExchangeSpec{
			{ExchangeEvents, amqp.ExchangeTopic},
			{ExchangeTriggers, amqp.ExchangeDirect},
			{ExchangeDLQ, amqp.ExchangeDirect},
		},
		Queues: []QueueSpec{
			{QueueOrchestrateRequests, amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQTriggers),
			}},
			{QueueDLQTriggers, nil},
		},
		Bindings: []BindingSpec{
			{QueueOrchestrateRequests, RoutingKeyOrchestrate, ExchangeTriggers},
			{QueueDLQTriggers, RoutingKeyDLQTriggers, ExchangeDLQ},
		},
	}
}

// SetupTopology объявляет обменники, очереди и привязки.
// Объявления идемпотентны, вызывать можно при каждом старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	topo := DefaultTopology()
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range topo.Exchanges {
			if err := ch.ExchangeDeclare(string(ex.Name), ex.Kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
			}
		}

		for _, q := range topo.Queues {
			if _, err := ch.QueueDeclare(string(q.Name), true, false, false, false, q.Args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.Name, err)
			}
		}

		for _, b := range topo.Bindings {
			if err := ch.QueueBind(string(b.Queue), string(b.RoutingKey), string(b.Exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.Queue, b.Exchange, err)
			}
		}
		return nil
	})
}

// String возвращает описание топологии для лога при старте.
func (t Topology) String() string {
	var b strings.Builder
	b.WriteString("Taskflow RabbitMQ topology:\n")
	for _, ex := range t.Exchanges {
		fmt.Fprintf(&b, "  %s (%s)\n", ex.Name, ex.Kind)
		for _, bind := range t.Bindings {
			if bind.Exchange != ex.Name {
				continue
			}
			fmt.Fprintf(&b, "    -> %s [routing: %s]\n", bind.Queue, bind.RoutingKey)
		}
	}
	return b.String()
}
