package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"github.com/cuongbtq/restaurant-analysis/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the part of the RabbitMQ client the notifier needs
type Broker interface {
	Publish(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

var _ Broker = (*rabbitmq.Client)(nil)

// RabbitNotifier publishes job ids to RabbitMQ so workers in other processes wake up
type RabbitNotifier struct {
	broker Broker
	logger *slog.Logger
	wake   chan struct{}
}

func NewRabbitNotifier(broker Broker, logger *slog.Logger) *RabbitNotifier {
	return &RabbitNotifier{
		broker: broker,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

func (n *RabbitNotifier) Notify(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	return n.broker.Publish(ctx, body, "application/json")
}

func (n *RabbitNotifier) Wakeups() <-chan struct{} {
	return n.wake
}

// Run consumes job messages and turns them into wake-ups until ctx is done
func (n *RabbitNotifier) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := n.broker.Consume(consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			n.handle(delivery)
		}
	}
}

func (n *RabbitNotifier) handle(delivery amqp.Delivery) {
	var msg domain.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil || msg.JobID == "" {
		n.logger.Error("Dropping malformed job message",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		if err := delivery.Nack(false, false); err != nil {
			n.logger.Error("Failed to NACK malformed message", slog.Any("error", err))
		}
		return
	}

	// the store is the source of truth, so the message is done once seen
	if err := delivery.Ack(false); err != nil {
		n.logger.Warn("Failed to ACK job message",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}

	select {
	case n.wake <- struct{}{}:
	default:
	}
}
