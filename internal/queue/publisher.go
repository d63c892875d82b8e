package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("message was nacked by broker")

// Publisher publishes JSON messages and waits for the broker to confirm them.
type Publisher struct {
	client *Client
	mu     sync.Mutex
	// confirming is the channel confirm mode was enabled on; a reconnect
	// replaces the channel and confirms must be enabled again.
	confirming *amqp.Channel
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends message to the exchange and blocks until the broker acks it.
// Without a deadline on ctx it waits at most five seconds.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.client.channelOrReconnect()
	if err != nil {
		return err
	}
	if p.confirming != ch {
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		p.confirming = ch
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to exchange '%s' with routing key '%s': %w", exchange, routingKey, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirmation timeout: %w", err)
	}
	if !acked {
		return ErrNacked
	}

	log.WithFields(log.Fields{
		"exchange":   exchange,
		"routingKey": routingKey,
	}).Debug("Message published")
	return nil
}
