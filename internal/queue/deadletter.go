package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Getter is the polling side of *amqp.Channel.
type Getter interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

type DeadLetter struct {
	RoutingKey string
	Body       []byte
	Headers    amqp.Table
	Deaths     int64
	Reason     string
}

func newDeadLetter(d amqp.Delivery) DeadLetter {
	dl := DeadLetter{RoutingKey: d.RoutingKey, Body: d.Body, Headers: d.Headers}
	if reason, ok := d.Headers["x-first-death-reason"].(string); ok {
		dl.Reason = reason
	}
	deaths, _ := d.Headers["x-death"].([]any)
	for _, entry := range deaths {
		if t, ok := entry.(amqp.Table); ok {
			if n, ok := t["count"].(int64); ok {
				dl.Deaths += n
			}
			if dl.Reason == "" {
				dl.Reason, _ = t["reason"].(string)
			}
		}
	}
	return dl
}

// PeekDeadLetters reads up to limit messages from the stage's DLQ and puts
// them back. Messages read are held unacked until the peek finishes, so the
// same message is never listed twice.
func PeekDeadLetters(g Getter, stage Stage, limit int) ([]DeadLetter, error) {
	var (
		out  []DeadLetter
		held []amqp.Delivery
	)
	defer func() {
		for _, d := range held {
			_ = d.Nack(false, true)
		}
	}()

	for limit <= 0 || len(out) < limit {
		d, ok, err := g.Get(stage.DeadLetterQueue(), false)
		if err != nil {
			return out, fmt.Errorf("failed to read %s: %w", stage.DeadLetterQueue(), err)
		}
		if !ok {
			break
		}
		held = append(held, d)
		out = append(out, newDeadLetter(d))
	}
	return out, nil
}

// ReplayDeadLetters moves up to limit messages from the stage's DLQ back to the
// stage exchange with a fresh retry budget. It returns how many were replayed.
func ReplayDeadLetters(ctx context.Context, g Getter, p Publisher, stage Stage, limit int) (int, error) {
	replayed := 0
	for limit <= 0 || replayed < limit {
		d, ok, err := g.Get(stage.DeadLetterQueue(), false)
		if err != nil {
			return replayed, fmt.Errorf("failed to read %s: %w", stage.DeadLetterQueue(), err)
		}
		if !ok {
			break
		}

		headers := amqp.Table{}
		for k, v := range d.Headers {
			switch k {
			case HeaderRetryCount, HeaderDeliveryCount, "x-death", "x-first-death-exchange", "x-first-death-queue", "x-first-death-reason",
				"x-last-death-exchange", "x-last-death-queue", "x-last-death-reason":
				continue
			}
			headers[k] = v
		}

		if err := p.Publish(ctx, stage.Exchange, d.RoutingKey, d.Body, headers); err != nil {
			_ = d.Nack(false, true)
			return replayed, fmt.Errorf("failed to replay message: %w", err)
		}
		if err := d.Ack(false); err != nil {
			return replayed, fmt.Errorf("failed to ack replayed message: %w", err)
		}
		replayed++
	}
	return replayed, nil
}
