package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned when the client is used after Close.
var ErrClosed = errors.New("amqp client is closed")

const maxReconnectInterval = 30 * time.Second

// Client holds one RabbitMQ connection and channel. When the broker drops the
// connection the client redials in the background until Close is called.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex
	url     string
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient dials the broker and opens a channel.
func NewClient(url string) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{url: url, ctx: ctx, cancel: cancel}

	client.mu.Lock()
	err := client.dial()
	client.mu.Unlock()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create AMQP client: %w", err)
	}

	return client, nil
}

// dial must be called with mu held.
func (c *Client) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch

	go c.watchClose(conn)

	log.Info("AMQP client connected")
	return nil
}

// watchClose redials after the broker or the network drops conn. A nil close
// error means the connection was closed on purpose.
func (c *Client) watchClose(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if closeErr == nil {
		return
	}
	log.WithError(closeErr).Error("AMQP connection lost, reconnecting")

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxReconnectInterval
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		if err := c.Reconnect(); err != nil {
			if errors.Is(err, ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(policy, c.ctx), func(err error, next time.Duration) {
		log.WithError(err).WithField("retry_in", next).Warn("AMQP reconnect failed")
	})
	if err != nil && !errors.Is(err, ErrClosed) && c.ctx.Err() == nil {
		log.WithError(err).Error("AMQP reconnect gave up")
	}
}

// Reconnect replaces a closed connection or channel. It does nothing while
// the current channel is open, so concurrent callers dial at most once.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return c.dial()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Channel returns the current channel.
func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.channel == nil || c.channel.IsClosed() {
		return nil, ErrClosed
	}
	return c.channel, nil
}

// channelOrReconnect returns an open channel, redialing once if needed.
func (c *Client) channelOrReconnect() (*amqp.Channel, error) {
	ch, err := c.Channel()
	if err == nil {
		return ch, nil
	}
	if err := c.Reconnect(); err != nil {
		return nil, err
	}
	return c.Channel()
}

// Close closes the channel and the connection and stops reconnecting.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.Info("AMQP client closed")
	return nil
}
