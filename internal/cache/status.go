// Package cache keeps the latest status of every job in Redis so the API can
// answer status polls without touching Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amrrdev/quizscan/internal/aggregator"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheMiss indicates the job has no cached status.
var ErrCacheMiss = errors.New("cache miss")

const (
	keyPrefix = "jobstatus:"
	// Channel receives every status written to the cache.
	Channel = "jobstatus"

	DefaultTTL = 24 * time.Hour
)

type Status struct {
	JobID      string          `json:"job_id"`
	UserID     string          `json:"user_id,omitempty"`
	Status     types.JobStatus `json:"status"`
	TotalPages *int            `json:"total_pages,omitempty"`
	Error      string          `json:"error,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewClient connects to Redis and pings it once.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func NewStatusCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StatusCache{client: client, ttl: ttl, logger: logger}
}

func Key(jobID string) string {
	return keyPrefix + jobID
}

// Put merges s into the job's hash and announces it on Channel. Empty
// UserID, TotalPages and Error leave the stored fields untouched, so writers
// that do not know them never erase them.
func (c *StatusCache) Put(ctx context.Context, s Status) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	fields := map[string]any{
		"job_id":     s.JobID,
		"status":     string(s.Status),
		"updated_at": s.UpdatedAt.Format(time.RFC3339Nano),
	}
	if s.UserID != "" {
		fields["user_id"] = s.UserID
	}
	if s.TotalPages != nil {
		fields["total_pages"] = *s.TotalPages
	}
	if s.Error != "" {
		fields["error"] = s.Error
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	key := Key(s.JobID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttl)
	pipe.Publish(ctx, Channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

func (c *StatusCache) Get(ctx context.Context, jobID string) (*Status, error) {
	fields, err := c.client.HGetAll(ctx, Key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get status: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrCacheMiss
	}
	return parseStatus(fields)
}

func parseStatus(fields map[string]string) (*Status, error) {
	s := &Status{
		JobID:  fields["job_id"],
		UserID: fields["user_id"],
		Status: types.JobStatus(fields["status"]),
		Error:  fields["error"],
	}
	if raw, ok := fields["total_pages"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("decode cached total_pages: %w", err)
		}
		s.TotalPages = &n
	}
	if raw, ok := fields["updated_at"]; ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode cached updated_at: %w", err)
		}
		s.UpdatedAt = t
	}
	return s, nil
}

// JobStatusChanged records a transition. Failures are logged only.
func (c *StatusCache) JobStatusChanged(ctx context.Context, jobID string, status types.JobStatus, totalPages *int) {
	if err := c.Put(ctx, Status{JobID: jobID, Status: status, TotalPages: totalPages}); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("⚠️ failed to cache job status")
	}
}

// JobFinished records the terminal status of an aggregated job.
func (c *StatusCache) JobFinished(ctx context.Context, outcome aggregator.Outcome) error {
	total := outcome.TotalPages
	return c.Put(ctx, Status{JobID: outcome.JobID, Status: outcome.Status, TotalPages: &total, Error: outcome.Reason})
}

// Subscribe streams statuses published on Channel until ctx is done.
func (c *StatusCache) Subscribe(ctx context.Context) (<-chan Status, error) {
	sub := c.client.Subscribe(ctx, Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Status, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s Status
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					c.logger.Warn().Err(err).Msg("⚠️ dropping malformed status message")
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
