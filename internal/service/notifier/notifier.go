// Package notifier publishes user-facing notification events to the
// message broker. Delivery is fire-and-forget: errors are logged and
// swallowed so a broker outage never fails the flow that triggered the
// notification.
package notifier

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/queue"
)

const notificationsQueueName = "portal.notifications"

// Broker publishes NotificationEvents to the portal.notifications queue.
type Broker struct {
	url string
	log *zap.Logger
}

// New returns a Broker publishing to the given AMQP URL.
func New(url string, log *zap.Logger) *Broker {
	return &Broker{url: url, log: log}
}

// Notify publishes one event. The connection is opened per publish; these
// events are rare (registrations, resets, lockouts, quota alerts), so a
// persistent channel is not worth its failure modes here.
func (b *Broker) Notify(ctx context.Context, event string, payload map[string]any) {
	if err := b.publish(ctx, queue.NotificationEvent{
		Event:      event,
		Payload:    payload,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		b.log.Warn("notification dropped", zap.String("event", event), zap.Error(err))
	}
}

func (b *Broker) publish(ctx context.Context, ev queue.NotificationEvent) error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare; durable so events survive broker restarts.
	if _, err := ch.QueueDeclare(notificationsQueueName, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx,
		"",                     // default exchange
		notificationsQueueName, // routing key = queue name
		false,                  // mandatory
		false,                  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
}

// Noop is a Notifier that drops every event, for deployments without a
// broker.
type Noop struct{}

// Notify implements the notifier interface.
func (Noop) Notify(context.Context, string, map[string]any) {}
