package queue

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	EmailExchange = "email"

	AnalysisQueue = "email.analysis"

	RoutingKeyAnalysisRequested = "email.analysis.requested"
)

// DeclareTopology declares the email exchange and the analysis queue and
// binds them. It is idempotent.
func DeclareTopology(client *Client) error {
	ch, err := client.Channel()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(
		EmailExchange,
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", EmailExchange, err)
	}

	if _, err := ch.QueueDeclare(
		AnalysisQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", AnalysisQueue, err)
	}

	if err := ch.QueueBind(AnalysisQueue, RoutingKeyAnalysisRequested, EmailExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", AnalysisQueue, EmailExchange, err)
	}

	log.WithFields(log.Fields{
		"exchange":   EmailExchange,
		"queue":      AnalysisQueue,
		"routingKey": RoutingKeyAnalysisRequested,
	}).Info("AMQP topology declared")
	return nil
}
