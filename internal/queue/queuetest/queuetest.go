// Package queuetest provides in-memory stand-ins for broker deliveries and publishing.
package queuetest

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Acker records how deliveries were settled.
type Acker struct {
	mu       sync.Mutex
	Acked    []uint64
	Nacked   []uint64
	Requeued []uint64
}

func (a *Acker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acked = append(a.Acked, tag)
	return nil
}

func (a *Acker) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.Requeued = append(a.Requeued, tag)
	} else {
		a.Nacked = append(a.Nacked, tag)
	}
	return nil
}

func (a *Acker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type Message struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    amqp.Table
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Body, v)
}

// Publisher keeps every published message. Err, when set, fails every publish.
type Publisher struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Messages = append(p.Messages, Message{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Body:       append([]byte(nil), body...),
		Headers:    headers,
	})
	return nil
}

// ByKey returns the published messages with the given routing key.
func (p *Publisher) ByKey(routingKey string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.Messages {
		if m.RoutingKey == routingKey {
			out = append(out, m)
		}
	}
	return out
}

// Delivery turns a published message back into a delivery settled through acker.
func Delivery(m Message, acker amqp.Acknowledger, tag uint64) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  tag,
		Exchange:     m.Exchange,
		RoutingKey:   m.RoutingKey,
		Body:         m.Body,
		Headers:      m.Headers,
	}
}

// JSONDelivery builds a first-attempt delivery carrying v as its body.
func JSONDelivery(exchange, routingKey string, v any, acker amqp.Acknowledger, tag uint64) amqp.Delivery {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Delivery(Message{Exchange: exchange, RoutingKey: routingKey, Body: body}, acker, tag)
}
