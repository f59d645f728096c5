// Package outbox publishes reconciliation events recorded in the ledger to
// RabbitMQ. Events are written in the same transaction as the balance change,
// so a crash between commit and publish only delays delivery.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/store"
	amqp "github.com/rabbitmq/amqp091-go"
)

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "thrift_outbox_publish_total",
	Help: "Outbox events handed to the broker, labeled by event type and result",
}, []string{"type", "result"})

// Publisher delivers one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, event domain.OutboxEvent) error
}

// AMQPPublisher publishes to a durable queue on the default exchange.
type AMQPPublisher struct {
	ch    *amqp.Channel
	queue string
}

// NewAMQPPublisher opens a channel on conn and declares queue.
func NewAMQPPublisher(conn *amqp.Connection, queue string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{ch: ch, queue: queue}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	return p.ch.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("outbox-%d", event.ID),
			Timestamp:    event.CreatedAt,
			Type:         event.Type,
			Body:         event.Payload,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// Relay drains pending outbox events on a fixed interval.
type Relay struct {
	store     store.OutboxStore
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(s store.OutboxStore, p Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Relay{store: s, publisher: p, logger: logger, interval: interval, batchSize: batchSize}
}

// Run ticks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil {
				r.logger.Error("outbox: query pending events", "error", err)
			}
		}
	}
}

// Drain publishes one batch and returns how many events were delivered. An
// event that fails to publish stays pending and is retried on the next call.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.store.PendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range events {
		if err := r.publisher.Publish(ctx, ev); err != nil {
			publishTotal.WithLabelValues(ev.Type, "error").Inc()
			r.logger.Warn("outbox: publish failed", "id", ev.ID, "type", ev.Type, "error", err)
			continue
		}
		publishTotal.WithLabelValues(ev.Type, "ok").Inc()

		if err := r.store.MarkEventProcessed(ctx, ev.ID); err != nil {
			r.logger.Error("outbox: mark processed", "id", ev.ID, "error", err)
			continue
		}
		r.logger.Debug("outbox: event sent", "id", ev.ID, "type", ev.Type)
		sent++
	}
	return sent, nil
}
