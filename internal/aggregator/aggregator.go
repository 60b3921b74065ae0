// Package aggregator collects per-page result fragments and decides when a job is finished.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Policy decides what dead-lettered pages mean for the job.
type Policy string

const (
	// PolicyPartial completes the job with the surviving pages, unless none survived.
	PolicyPartial Policy = "partial"
	// PolicyStrict fails the job when any page was dead-lettered.
	PolicyStrict Policy = "strict"
)

type Progress struct {
	TotalPages   *int
	Received     int
	DeadLettered int
	Finished     bool
	Status       types.JobStatus
}

// Accounted is the number of pages that will never change again.
func (p Progress) Accounted() int {
	return p.Received + p.DeadLettered
}

// Store holds the aggregate state of every job. Implementations must make
// AddFragment idempotent per (job, page) and Finish succeed at most once per job.
// Once the total is known, Progress, Questions and DeadLetteredPages only see
// pages 1..total.
type Store interface {
	SetTotalPages(ctx context.Context, jobID string, total int) error
	AddFragment(ctx context.Context, f types.ResultFragment) (bool, error)
	MarkDeadLettered(ctx context.Context, jobID string, page int, reason string) (bool, error)
	Progress(ctx context.Context, jobID string) (Progress, error)
	Questions(ctx context.Context, jobID string) ([]types.QuestionRecord, error)
	DeadLetteredPages(ctx context.Context, jobID string) ([]int, error)
	Finish(ctx context.Context, jobID string, status types.JobStatus) (bool, error)
}

// JobTransitioner moves the SubmissionJob to its terminal status.
type JobTransitioner interface {
	Transition(ctx context.Context, jobID string, from []types.JobStatus, to types.JobStatus, reason string) (bool, error)
}

// Outcome is what downstream consumers learn about a finished job.
type Outcome struct {
	JobID             string
	Status            types.JobStatus
	TotalPages        int
	Questions         []types.QuestionRecord
	DeadLetteredPages []int
	Reason            string
}

type Sink interface {
	JobFinished(ctx context.Context, outcome Outcome) error
}

type Aggregator struct {
	store  Store
	jobs   JobTransitioner
	policy Policy
	sinks  []Sink
	logger zerolog.Logger
}

func New(store Store, jobs JobTransitioner, policy Policy, logger zerolog.Logger, sinks ...Sink) *Aggregator {
	if policy == "" {
		policy = PolicyPartial
	}
	return &Aggregator{
		store:  store,
		jobs:   jobs,
		policy: policy,
		sinks:  sinks,
		logger: logger,
	}
}

// Handle is the consume-loop body for the results queue.
func (a *Aggregator) Handle(ctx context.Context, d amqp.Delivery) error {
	var err error
	switch d.RoutingKey {
	case queue.KeyFragment:
		var f types.ResultFragment
		if err := json.Unmarshal(d.Body, &f); err != nil {
			return pipeline.PermanentError("failed to decode fragment", err)
		}
		_, err = a.Absorb(ctx, f)
	case queue.KeyDecomposed:
		var ev types.JobDecomposed
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return pipeline.PermanentError("failed to decode decomposed event", err)
		}
		_, err = a.RecordTotalPages(ctx, ev)
	case queue.KeyPageDeadLettered:
		var ev types.PageDeadLetteredEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return pipeline.PermanentError("failed to decode dead-letter event", err)
		}
		_, err = a.RecordDeadLetter(ctx, ev)
	default:
		return pipeline.PermanentError(fmt.Sprintf("unexpected routing key %q", d.RoutingKey), nil)
	}
	return err
}

// Absorb adds one fragment. A duplicate (job, page) is a no-op. It returns the
// outcome when this fragment finished the job, nil otherwise.
func (a *Aggregator) Absorb(ctx context.Context, f types.ResultFragment) (*Outcome, error) {
	if f.JobID == "" || f.PageNumber < 1 {
		return nil, pipeline.PermanentError(fmt.Sprintf("invalid fragment %q page %d", f.JobID, f.PageNumber), nil)
	}

	if err := a.checkPage(ctx, f.JobID, f.PageNumber); err != nil {
		return nil, err
	}

	added, err := a.store.AddFragment(ctx, f)
	if err != nil {
		return nil, pipeline.TransientError("failed to store fragment", err)
	}
	if !added {
		a.logger.Debug().Str("job_id", f.JobID).Int("page", f.PageNumber).Msg("duplicate fragment ignored")
	}
	return a.evaluate(ctx, f.JobID)
}

// RecordTotalPages learns how many pages the job has. Fragments that arrived
// earlier stay buffered until this is known.
func (a *Aggregator) RecordTotalPages(ctx context.Context, ev types.JobDecomposed) (*Outcome, error) {
	if ev.JobID == "" || ev.TotalPages < 1 {
		return nil, pipeline.PermanentError(fmt.Sprintf("invalid decomposed event %q total %d", ev.JobID, ev.TotalPages), nil)
	}
	if err := a.store.SetTotalPages(ctx, ev.JobID, ev.TotalPages); err != nil {
		return nil, pipeline.TransientError("failed to store total pages", err)
	}
	return a.evaluate(ctx, ev.JobID)
}

// RecordDeadLetter accounts for a page that will never produce a fragment.
func (a *Aggregator) RecordDeadLetter(ctx context.Context, ev types.PageDeadLetteredEvent) (*Outcome, error) {
	if ev.JobID == "" || ev.PageNumber < 1 {
		return nil, pipeline.PermanentError(fmt.Sprintf("invalid dead-letter event %q page %d", ev.JobID, ev.PageNumber), nil)
	}
	if err := a.checkPage(ctx, ev.JobID, ev.PageNumber); err != nil {
		return nil, err
	}
	if _, err := a.store.MarkDeadLettered(ctx, ev.JobID, ev.PageNumber, ev.Reason); err != nil {
		return nil, pipeline.TransientError("failed to store dead-lettered page", err)
	}
	return a.evaluate(ctx, ev.JobID)
}

// checkPage rejects a page beyond the job's known total. Before the total is
// known the page is buffered and the store ignores it later if it falls outside.
func (a *Aggregator) checkPage(ctx context.Context, jobID string, page int) error {
	progress, err := a.store.Progress(ctx, jobID)
	if err != nil {
		return pipeline.TransientError("failed to load progress", err)
	}
	if progress.TotalPages != nil && page > *progress.TotalPages {
		return pipeline.PermanentError(fmt.Sprintf("page %d beyond total %d of job %q", page, *progress.TotalPages, jobID), nil)
	}
	return nil
}

func (a *Aggregator) evaluate(ctx context.Context, jobID string) (*Outcome, error) {
	progress, err := a.store.Progress(ctx, jobID)
	if err != nil {
		return nil, pipeline.TransientError("failed to load progress", err)
	}
	if progress.Finished || progress.TotalPages == nil || progress.Accounted() < *progress.TotalPages {
		return nil, nil
	}

	status, reason := a.decide(progress)

	if a.jobs != nil {
		if _, err := a.jobs.Transition(ctx, jobID, []types.JobStatus{types.JobInProgress}, status, reason); err != nil {
			return nil, pipeline.TransientError("failed to update job status", err)
		}
	}

	won, err := a.store.Finish(ctx, jobID, status)
	if err != nil {
		return nil, pipeline.TransientError("failed to finish job", err)
	}
	if !won {
		return nil, nil
	}

	outcome := &Outcome{
		JobID:      jobID,
		Status:     status,
		TotalPages: *progress.TotalPages,
		Reason:     reason,
	}
	if outcome.Questions, err = a.store.Questions(ctx, jobID); err != nil {
		a.logger.Error().Err(err).Str("job_id", jobID).Msg("❌ failed to load questions for sinks")
	}
	if outcome.DeadLetteredPages, err = a.store.DeadLetteredPages(ctx, jobID); err != nil {
		a.logger.Error().Err(err).Str("job_id", jobID).Msg("❌ failed to load dead-lettered pages for sinks")
	}

	for _, sink := range a.sinks {
		if err := sink.JobFinished(ctx, *outcome); err != nil {
			a.logger.Error().Err(err).Str("job_id", jobID).Msg("❌ sink failed")
		}
	}

	a.logger.Info().
		Str("job_id", jobID).
		Str("status", string(status)).
		Int("total_pages", outcome.TotalPages).
		Int("questions", len(outcome.Questions)).
		Int("dead_lettered", progress.DeadLettered).
		Msg("🏁 Job finished")
	return outcome, nil
}

func (a *Aggregator) decide(p Progress) (types.JobStatus, string) {
	if p.DeadLettered == 0 {
		return types.JobCompleted, ""
	}
	reason := fmt.Sprintf("%d of %d pages dead-lettered", p.DeadLettered, *p.TotalPages)
	if a.policy == PolicyStrict || p.Received == 0 {
		return types.JobFailed, reason
	}
	return types.JobCompleted, reason
}

// sortQuestions orders records by (source page, source ordinal).
func sortQuestions(qs []types.QuestionRecord) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].SourcePage != qs[j].SourcePage {
			return qs[i].SourcePage < qs[j].SourcePage
		}
		return qs[i].SourceOrdinal < qs[j].SourceOrdinal
	})
}
