package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// ErrDeliveriesClosed means the broker closed the delivery channel.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Handler processes one delivery. It must ack or nack it.
type Handler interface {
	Handle(ctx context.Context, delivery *amqp.Delivery)
}

// Consumer feeds deliveries from one queue to a Handler, one at a time.
type Consumer struct {
	client  *Client
	handler Handler
}

func NewConsumer(client *Client, handler Handler) *Consumer {
	return &Consumer{client: client, handler: handler}
}

// Consume blocks until ctx is cancelled or the client is closed. When the
// broker drops the channel it reconnects and resumes consuming.
func (c *Consumer) Consume(ctx context.Context, queueName string) error {
	delay := time.Second
	for {
		err := c.consume(ctx, queueName)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrClosed) && c.client.isClosed() {
			return err
		}

		log.WithError(err).WithField("queue", queueName).Warn("Consumer interrupted, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectInterval)

		if err := c.client.Reconnect(); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			log.WithError(err).Warn("AMQP reconnect failed")
			continue
		}
		delay = time.Second
	}
}

func (c *Consumer) consume(ctx context.Context, queueName string) error {
	ch, err := c.client.Channel()
	if err != nil {
		return err
	}

	// One unacked message at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(
		ctx,
		queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.WithField("queue", queueName).Info("Started consuming messages")

	for {
		select {
		case <-ctx.Done():
			log.WithField("queue", queueName).Info("Consumer stopped")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			log.WithFields(log.Fields{
				"routingKey":  delivery.RoutingKey,
				"deliveryTag": delivery.DeliveryTag,
			}).Debug("Processing message")
			c.handler.Handle(ctx, &delivery)
		}
	}
}
