package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ChannelOpener hands out one broker channel per consume loop.
type ChannelOpener interface {
	NewChannel() (*amqp.Channel, error)
}

// Pool runs a fixed number of competing consume loops on one queue.
type Pool struct {
	opener        ChannelOpener
	queueName     string
	concurrency   int
	handler       queue.Handler
	settler       *queue.Settler
	statsInterval time.Duration
	logger        zerolog.Logger

	active    int32
	processed int64
	failed    int64
}

type PoolConfig struct {
	Queue         string
	Concurrency   int
	StatsInterval time.Duration
}

type Stats struct {
	Active    int32
	Processed int64
	Failed    int64
}

func NewPool(opener ChannelOpener, cfg PoolConfig, handler queue.Handler, settler *queue.Settler, logger zerolog.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pool{
		opener:        opener,
		queueName:     cfg.Queue,
		concurrency:   cfg.Concurrency,
		handler:       handler,
		settler:       settler,
		statsInterval: cfg.StatsInterval,
		logger:        logger.With().Str("queue", cfg.Queue).Logger(),
	}
}

// Run blocks until ctx is cancelled or a consume loop loses its channel.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.logger.Info().Int("concurrency", p.concurrency).Msg("🚀 Starting consumers")

	errs := make(chan error, p.concurrency)
	var wg sync.WaitGroup
	for i := 1; i <= p.concurrency; i++ {
		ch, err := p.opener.NewChannel()
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		consumer, err := queue.NewConsumer(ch, p.queueName, fmt.Sprintf("%s-%d-%s", p.queueName, i, uuid.NewString()[:8]))
		if err != nil {
			ch.Close()
			cancel()
			wg.Wait()
			return err
		}

		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			defer consumer.Close()
			atomic.AddInt32(&p.active, 1)
			defer atomic.AddInt32(&p.active, -1)

			p.logger.Info().Int("worker", workerID).Msg("👷 Worker started")
			err := consumer.Run(ctx, p.track, p.settler)
			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Int("worker", workerID).Msg("❌ Worker stopped")
				errs <- err
				cancel()
				return
			}
			p.logger.Info().Int("worker", workerID).Msg("👷 Worker stopped (context cancelled)")
		}(i)
	}

	if p.statsInterval > 0 {
		go p.reportStats(ctx)
	}

	<-ctx.Done()
	p.logger.Info().Msg("⏹️  Shutting down workers...")
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// track runs the handler and counts the result.
func (p *Pool) track(ctx context.Context, d amqp.Delivery) error {
	err := p.handler(ctx, d)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	} else {
		atomic.AddInt64(&p.processed, 1)
	}
	return err
}

func (p *Pool) Stats() Stats {
	return Stats{
		Active:    atomic.LoadInt32(&p.active),
		Processed: atomic.LoadInt64(&p.processed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}

func (p *Pool) reportStats(ctx context.Context) {
	ticker := time.NewTicker(p.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			p.logger.Info().
				Int32("active", s.Active).
				Int64("processed", s.Processed).
				Int64("failed", s.Failed).
				Msg("📊 Stats")
		}
	}
}
