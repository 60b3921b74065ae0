package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeDecompose = "pdf-decompose"
	ExchangeExtract   = "page-extract"
	ExchangeResults   = "results"

	KeySubmission       = "submission"
	KeyPage             = "page"
	KeyFragment         = "fragment"
	KeyDecomposed       = "decomposed"
	KeyPageDeadLettered = "page.dead_lettered"
)

// Stage is one exchange/queue pair plus its dead-letter pair.
type Stage struct {
	Name        string
	Exchange    string
	Queue       string
	RoutingKeys []string
}

func (s Stage) DeadLetterExchange() string { return s.Exchange + ".dlx" }
func (s Stage) DeadLetterQueue() string    { return s.Queue + ".dlq" }

var (
	DecomposeStage = Stage{
		Name:        "decompose",
		Exchange:    ExchangeDecompose,
		Queue:       ExchangeDecompose,
		RoutingKeys: []string{KeySubmission},
	}
	ExtractStage = Stage{
		Name:        "extract",
		Exchange:    ExchangeExtract,
		Queue:       ExchangeExtract,
		RoutingKeys: []string{KeyPage},
	}
	ResultsStage = Stage{
		Name:        "results",
		Exchange:    ExchangeResults,
		Queue:       ExchangeResults,
		RoutingKeys: []string{KeyFragment, KeyDecomposed, KeyPageDeadLettered},
	}

	Stages = []Stage{DecomposeStage, ExtractStage, ResultsStage}
)

// StageByName accepts either the short name or the exchange name.
func StageByName(name string) (Stage, bool) {
	for _, s := range Stages {
		if s.Name == name || s.Exchange == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Declarer is the slice of *amqp.Channel needed to declare the topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology creates every exchange, queue, binding and dead-letter pair.
// Declarations are idempotent so every binary calls it at startup.
func DeclareTopology(d Declarer) error {
	for _, s := range Stages {
		if err := declareStage(d, s); err != nil {
			return err
		}
	}
	return nil
}

func declareStage(d Declarer, s Stage) error {
	if err := d.ExchangeDeclare(s.DeadLetterExchange(), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", s.DeadLetterExchange(), err)
	}
	if _, err := d.QueueDeclare(s.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", s.DeadLetterQueue(), err)
	}

	if err := d.ExchangeDeclare(s.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", s.Exchange, err)
	}

	// Rejected messages keep their routing key, so the DLQ is bound with the same keys.
	args := amqp.Table{
		"x-dead-letter-exchange": s.DeadLetterExchange(),
	}
	if _, err := d.QueueDeclare(s.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", s.Queue, err)
	}

	for _, key := range s.RoutingKeys {
		if err := d.QueueBind(s.Queue, key, s.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s/%s: %w", s.Queue, s.Exchange, key, err)
		}
		if err := d.QueueBind(s.DeadLetterQueue(), key, s.DeadLetterExchange(), false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s/%s: %w", s.DeadLetterQueue(), s.DeadLetterExchange(), key, err)
		}
	}
	return nil
}
