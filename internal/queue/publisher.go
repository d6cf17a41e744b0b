package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const queueName = "seat.lock.events"

// Publisher pushes lock events to RabbitMQ for the notification center.
// Publishing is best effort: errors are logged and returned so callers can
// ignore them without failing the lease operation that triggered the event.
type Publisher struct {
	url    string
	logger *slog.Logger
}

func NewPublisher(url string, logger *slog.Logger) *Publisher {
	return &Publisher{url: url, logger: logger}
}

// Publish declares the durable queue and sends one persistent JSON message.
// A fresh connection per publish keeps the publisher stateless; lock events
// are low volume compared to the lease traffic itself.
func (p *Publisher) Publish(ctx context.Context, ev LockEvent) error {
	const op = "queue.Publisher.Publish"

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Error("rabbitmq dial failed", "error", err)
		return fmt.Errorf("%s:%w", op, err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Error("rabbitmq channel open failed", "error", err)
		return fmt.Errorf("%s:%w", op, err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		p.logger.Error("rabbitmq queue declare failed", "error", err)
		return fmt.Errorf("%s:%w", op, err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		pub,
	); err != nil {
		p.logger.Error("rabbitmq publish failed", "error", err, "type", ev.Type)
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}
