package queue

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Handler processes one delivery and leaves settlement to the caller.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consumer reads one queue over its own channel with a prefetch of one, so a
// loop never holds more than the message it is working on.
type Consumer struct {
	ch    *amqp.Channel
	queue string
	tag   string
}

func NewConsumer(ch *amqp.Channel, queueName, tag string) (*Consumer, error) {
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return &Consumer{ch: ch, queue: queueName, tag: tag}, nil
}

// Run delivers messages to handle and settles each one through settler until
// ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context, handle Handler, settler *Settler) error {
	deliveries, err := c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s queue: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.ch.Cancel(c.tag, false)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			settler.Settle(ctx, d, handle(ctx, d))
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close consumer channel: %w", err)
	}
	return nil
}
