package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Taskflow/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeEvent              MessageType = "event"
	MessageTypeOrchestrateRequest MessageType = "orchestrate.request"
)

// Message — конверт всех сообщений Taskflow.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrchestrateRequestPayload — запрос на внеочередной проход.
type OrchestrateRequestPayload struct {
	// Reason — что вызвало запрос (process.started, task.completed, ...).
	Reason string `json:"reason"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(t MessageType, payload any, now time.Time) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: now.UTC(),
	}
}

// Publisher публикует события движка и запросы на проход.
// Реализует orchestrator.EventPublisher и orchestrator.TriggerPublisher.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// Publish сериализует msg в JSON и отправляет его как persistent-сообщение.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishEvent отправляет событие в taskflow.events с ключом, равным типу события.
func (p *Publisher) PublishEvent(ctx context.Context, event domain.Event) error {
	msg := NewMessage(MessageTypeEvent, event, p.now())
	return p.Publish(ctx, ExchangeEvents, EventRoutingKey(event.Type), msg)
}

// PublishOrchestrateRequest просит демон оркестратора сделать проход.
func (p *Publisher) PublishOrchestrateRequest(ctx context.Context, reason string) error {
	msg := NewMessage(MessageTypeOrchestrateRequest, OrchestrateRequestPayload{Reason: reason}, p.now())
	return p.Publish(ctx, ExchangeTriggers, RoutingKeyOrchestrate, msg)
}
