package mq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Taskflow/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultTopology_BindingsReferenceDeclaredObjects(t *testing.T) {
	topo := DefaultTopology()

	exchanges := make(map[Exchange]bool)
	for _, ex := range topo.Exchanges {
		exchanges[ex.Name] = true
	}
	queues := make(map[Queue]bool)
	for _, q := range topo.Queues {
		queues[q.Name] = true
	}

	for _, b := range topo.Bindings {
		if !exchanges[b.Exchange] {
			t.Errorf("binding %s uses undeclared exchange %s", b.Queue, b.Exchange)
		}
		if !queues[b.Queue] {
			t.Errorf("binding uses undeclared queue %s", b.Queue)
		}
	}

	for _, q := range topo.Queues {
		dlx, ok := q.Args["x-dead-letter-exchange"].(string)
		if !ok {
			continue
		}
		if !exchanges[Exchange(dlx)] {
			t.Errorf("queue %s dead-letters to undeclared exchange %s", q.Name, dlx)
		}
	}
}

func TestDefaultTopology_EventsExchangeIsTopic(t *testing.T) {
	for _, ex := range DefaultTopology().Exchanges {
		if ex.Name == ExchangeEvents && ex.Kind != amqp.ExchangeTopic {
			t.Errorf("events exchange kind = %s, want topic", ex.Kind)
		}
	}
}

func TestTopology_String(t *testing.T) {
	s := DefaultTopology().String()
	for _, want := range []string{"taskflow.events (topic)", "orchestrate.requests [routing: orchestrate]"} {
		if !strings.Contains(s, want) {
			t.Errorf("topology description missing %q:\n%s", want, s)
		}
	}
}

func TestEventRoutingKey(t *testing.T) {
	if got := EventRoutingKey(domain.EventEntrySuspended); got != "entry.suspended" {
		t.Errorf("routing key = %s, want entry.suspended", got)
	}
}

func TestParsePayload(t *testing.T) {
	msg := NewMessage(MessageTypeOrchestrateRequest, map[string]any{"reason": "task.completed"}, time.Now())

	req, err := ParsePayload[OrchestrateRequestPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if req.Reason != "task.completed" {
		t.Errorf("reason = %q, want task.completed", req.Reason)
	}
}

func TestNewMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	a := NewMessage(MessageTypeEvent, nil, now)
	b := NewMessage(MessageTypeEvent, nil, now)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("message ids must be unique, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.Location() != time.UTC || !a.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v in UTC", a.Timestamp, now)
	}
}

func TestOrchestrateHandler(t *testing.T) {
	var reasons []string
	run := func(ctx context.Context, reason string) error {
		reasons = append(reasons, reason)
		return nil
	}
	h := OrchestrateHandler(run, discardLogger())

	req := NewMessage(MessageTypeOrchestrateRequest, OrchestrateRequestPayload{Reason: "process.started"}, time.Now())
	if err := h(context.Background(), &Delivery{Message: *req}); err != nil {
		t.Fatalf("handler: %v", err)
	}

	other := NewMessage(MessageTypeEvent, domain.Event{Type: domain.EventEntryReady}, time.Now())
	if err := h(context.Background(), &Delivery{Message: *other}); err != nil {
		t.Fatalf("handler on event: %v", err)
	}

	if len(reasons) != 1 || reasons[0] != "process.started" {
		t.Errorf("run calls = %v, want [process.started]", reasons)
	}
}

func TestConsumer_Handle(t *testing.T) {
	failing := errors.New("db down")

	tests := []struct {
		name        string
		body        string
		redelivered bool
		handlerErr  error
		want        disposition
	}{
		{"ok", `{"id":"1","type":"orchestrate.request","payload":{}}`, false, nil, dispositionAck},
		{"malformed", `{not json`, false, nil, dispositionDeadLetter},
		{"first failure requeues", `{"id":"2","type":"orchestrate.request"}`, false, failing, dispositionRequeue},
		{"second failure dead-letters", `{"id":"3","type":"orchestrate.request"}`, true, failing, dispositionDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConsumer(nil, discardLogger(), ConsumerConfig{
				Queue: QueueOrchestrateRequests,
				Handler: func(ctx context.Context, d *Delivery) error {
					return tt.handlerErr
				},
			})

			got := c.handle(context.Background(), amqp.Delivery{Body: []byte(tt.body), Redelivered: tt.redelivered})
			if got != tt.want {
				t.Errorf("disposition = %d, want %d", got, tt.want)
			}
		})
	}
}
