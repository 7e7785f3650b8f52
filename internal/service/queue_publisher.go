package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/iliyamo/user-auth-service/internal/queue"
)

// EventPublisher delivers session events.  Publishing is best effort: the
// auth flow logs a failure and carries on.
type EventPublisher interface {
	Publish(ctx context.Context, event q.SessionEvent) error
}

// NopPublisher drops every event.  It is used when EVENTS_ENABLED=false.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, q.SessionEvent) error { return nil }

// RabbitPublisher publishes SessionEvents to a durable RabbitMQ queue.
type RabbitPublisher struct {
	URL         string
	Queue       string
	DialTimeout time.Duration
}

// NewRabbitPublisher returns a publisher for the given broker URL and queue.
func NewRabbitPublisher(url, queue string) *RabbitPublisher {
	return &RabbitPublisher{URL: url, Queue: queue, DialTimeout: 2 * time.Second}
}

// Publish dials the broker, declares the queue and publishes event as a
// persistent JSON message.
func (p *RabbitPublisher) Publish(ctx context.Context, event q.SessionEvent) error {
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(p.DialTimeout)})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		p.Queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         event.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
