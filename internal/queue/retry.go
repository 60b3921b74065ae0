package queue

import (
	"context"
	"time"

	"github.com/amrrdev/quizscan/internal/pipeline"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	HeaderRetryCount    = "x-retry-count"
	HeaderDeliveryCount = "x-delivery-count"
)

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Backoff returns the wait before the retry that follows the given number of
// failed attempts: initial * 2^(failures-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	backoff := p.InitialBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if p.MaxBackoff > 0 && backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// PriorAttempts counts the failed attempts already recorded on a delivery.
// The broker's own x-delivery-count is honoured when it is larger.
func PriorAttempts(d amqp.Delivery) int {
	retries := headerInt(d.Headers, HeaderRetryCount)
	if deliveries := headerInt(d.Headers, HeaderDeliveryCount); deliveries > retries {
		return deliveries
	}
	return retries
}

func headerInt(headers amqp.Table, key string) int {
	if headers == nil {
		return 0
	}
	switch v := headers[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}

type Outcome string

const (
	OutcomeAcked        Outcome = "acked"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRequeued     Outcome = "requeued"
)

// DeadLetterHook runs right before a delivery is rejected to its dead-letter queue.
type DeadLetterHook func(ctx context.Context, d amqp.Delivery, cause error)

// Settler decides the fate of a delivery once its handler has returned.
type Settler struct {
	publisher    Publisher
	policy       RetryPolicy
	logger       zerolog.Logger
	onDeadLetter DeadLetterHook
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewSettler(publisher Publisher, policy RetryPolicy, logger zerolog.Logger) *Settler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Settler{
		publisher: publisher,
		policy:    policy,
		logger:    logger,
		sleep:     sleepContext,
	}
}

func (s *Settler) OnDeadLetter(hook DeadLetterHook) *Settler {
	s.onDeadLetter = hook
	return s
}

// Settle acks successes, dead-letters permanent and rasterization failures and
// exhausted retries, and republishes transient failures with an incremented
// retry header before acking the original. When the republish fails the
// original is requeued, so the message is never lost.
func (s *Settler) Settle(ctx context.Context, d amqp.Delivery, cause error) Outcome {
	if cause == nil {
		if err := d.Ack(false); err != nil {
			s.logger.Warn().Err(err).Msg("⚠️  failed to ack message")
		}
		return OutcomeAcked
	}

	failures := PriorAttempts(d) + 1
	log := s.logger.With().
		Str("exchange", d.Exchange).
		Str("routing_key", d.RoutingKey).
		Int("attempt", failures).
		Int("max_attempts", s.policy.MaxAttempts).
		Str("kind", string(pipeline.KindOf(cause))).
		Logger()

	if !pipeline.IsTransient(cause) {
		log.Error().Err(cause).Msg("💀 non-retryable failure, sending to DLQ")
		return s.deadLetter(ctx, d, cause)
	}
	if failures >= s.policy.MaxAttempts {
		log.Error().Err(cause).Msg("💀 retries exhausted, sending to DLQ")
		return s.deadLetter(ctx, d, cause)
	}

	wait := s.policy.Backoff(failures)
	log.Warn().Err(cause).Dur("backoff", wait).Msg("🔄 transient failure, retrying")
	if err := s.sleep(ctx, wait); err != nil {
		s.nack(d, true)
		return OutcomeRequeued
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(failures)

	if err := s.publisher.Publish(ctx, d.Exchange, d.RoutingKey, d.Body, headers); err != nil {
		log.Error().Err(err).Msg("❌ failed to republish, requeueing original")
		s.nack(d, true)
		return OutcomeRequeued
	}
	if err := d.Ack(false); err != nil {
		log.Warn().Err(err).Msg("⚠️  failed to ack message after republish")
	}
	return OutcomeRetried
}

func (s *Settler) deadLetter(ctx context.Context, d amqp.Delivery, cause error) Outcome {
	if s.onDeadLetter != nil {
		s.onDeadLetter(ctx, d, cause)
	}
	s.nack(d, false)
	return OutcomeDeadLettered
}

func (s *Settler) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		s.logger.Warn().Err(err).Bool("requeue", requeue).Msg("⚠️  failed to nack message")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
