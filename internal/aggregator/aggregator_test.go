package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/queue/queuetest"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (s *recordingSink) JobFinished(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return s.err
}

func fragment(page int, questions ...string) types.ResultFragment {
	f := types.ResultFragment{JobID: "job-1", PageNumber: page, CompletedAt: time.Now().UTC()}
	f.Questions = []types.QuestionRecord{}
	for i, q := range questions {
		f.Questions = append(f.Questions, types.QuestionRecord{
			QuestionText:       q,
			Options:            []string{"a", "b"},
			CorrectOptionIndex: types.NoCorrectOption,
			SourcePage:         page,
			SourceOrdinal:      i + 1,
		})
	}
	return f
}

func texts(qs []types.QuestionRecord) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.QuestionText
	}
	return out
}

func newJobs(t *testing.T) *repository.MemoryJobRepository {
	t.Helper()
	ctx := context.Background()
	jobs := repository.NewMemoryJobRepository()
	require.NoError(t, jobs.Create(ctx, &types.SubmissionJob{JobID: "job-1", UserID: "u1", SourcePath: "x.pdf"}))
	_, err := jobs.Transition(ctx, "job-1", []types.JobStatus{types.JobQueued}, types.JobInProgress, "")
	require.NoError(t, err)
	return jobs
}

func TestAbsorb_CompletesWhenAllPagesArrive(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	sink := &recordingSink{}
	agg := New(NewMemoryStore(), jobs, PolicyPartial, zerolog.Nop(), sink)

	out, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 2})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = agg.Absorb(ctx, fragment(2, "p2q1"))
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = agg.Absorb(ctx, fragment(1, "p1q1", "p1q2"))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, types.JobCompleted, out.Status)
	assert.Equal(t, []string{"p1q1", "p1q2", "p2q1"}, texts(out.Questions))

	job, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, job.Status)

	require.Len(t, sink.outcomes, 1)
	assert.Equal(t, "job-1", sink.outcomes[0].JobID)
}

func TestAbsorb_DuplicateFragmentIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := New(store, nil, PolicyPartial, zerolog.Nop())

	_, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 3})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := agg.Absorb(ctx, fragment(1, "q"))
		require.NoError(t, err)
	}

	p, err := store.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Received)
	assert.False(t, p.Finished)

	qs, err := store.Questions(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, qs, 1)
}

func TestAbsorb_DuplicateAfterCompletionIsNoop(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	agg := New(NewMemoryStore(), nil, PolicyPartial, zerolog.Nop(), sink)

	_, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 1})
	require.NoError(t, err)
	out, err := agg.Absorb(ctx, fragment(1, "q"))
	require.NoError(t, err)
	require.NotNil(t, out)

	out, err = agg.Absorb(ctx, fragment(1, "q"))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Len(t, sink.outcomes, 1)
}

func TestAbsorb_OrderIndependent(t *testing.T) {
	const pages = 6
	var want []string

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		ctx := context.Background()
		agg := New(NewMemoryStore(), nil, PolicyPartial, zerolog.Nop())

		// the decomposed event is just another message in the shuffle
		events := make([]func() (*Outcome, error), 0, pages+1)
		events = append(events, func() (*Outcome, error) {
			return agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: pages})
		})
		for p := 1; p <= pages; p++ {
			f := fragment(p, fmt.Sprintf("p%dq1", p), fmt.Sprintf("p%dq2", p))
			events = append(events, func() (*Outcome, error) { return agg.Absorb(ctx, f) })
		}
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		var final *Outcome
		for _, ev := range events {
			out, err := ev()
			require.NoError(t, err)
			if out != nil {
				require.Nil(t, final, "job finished twice")
				final = out
			}
		}
		require.NotNil(t, final)

		got := texts(final.Questions)
		if want == nil {
			want = got
		}
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "p1q1", want[0])
	assert.Equal(t, "p6q2", want[len(want)-1])
}

func TestAbsorb_BuffersUntilTotalKnown(t *testing.T) {
	ctx := context.Background()
	agg := New(NewMemoryStore(), nil, PolicyPartial, zerolog.Nop())

	for p := 1; p <= 2; p++ {
		out, err := agg.Absorb(ctx, fragment(p, "q"))
		require.NoError(t, err)
		assert.Nil(t, out)
	}

	out, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 2})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.Questions, 2)
}

func TestAbsorb_PagesOutsideTotalNeverCount(t *testing.T) {
	t.Run("rejected once the total is known", func(t *testing.T) {
		ctx := context.Background()
		jobs := newJobs(t)
		agg := New(NewMemoryStore(), jobs, PolicyPartial, zerolog.Nop())

		_, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 3})
		require.NoError(t, err)
		for _, page := range []int{1, 2} {
			_, err := agg.Absorb(ctx, fragment(page, fmt.Sprintf("p%dq1", page)))
			require.NoError(t, err)
		}

		out, err := agg.Absorb(ctx, fragment(7, "stray"))
		assert.True(t, pipeline.IsPermanent(err))
		assert.Nil(t, out)

		_, err = agg.RecordDeadLetter(ctx, types.PageDeadLetteredEvent{JobID: "job-1", PageNumber: 4})
		assert.True(t, pipeline.IsPermanent(err))

		job, err := jobs.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, types.JobInProgress, job.Status)
	})

	t.Run("buffered before the total is known", func(t *testing.T) {
		ctx := context.Background()
		jobs := newJobs(t)
		agg := New(NewMemoryStore(), jobs, PolicyPartial, zerolog.Nop())

		for _, page := range []int{7, 1, 2} {
			_, err := agg.Absorb(ctx, fragment(page, fmt.Sprintf("p%dq1", page)))
			require.NoError(t, err)
		}
		out, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 3})
		require.NoError(t, err)
		assert.Nil(t, out, "page 3 is still missing")

		out, err = agg.Absorb(ctx, fragment(3, "p3q1"))
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, types.JobCompleted, out.Status)
		assert.Equal(t, []string{"p1q1", "p2q1", "p3q1"}, texts(out.Questions))
	})
}

func TestDeadLetterPolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		fragments  []int
		dead       []int
		wantStatus types.JobStatus
	}{
		{name: "partial keeps surviving pages", policy: PolicyPartial, fragments: []int{1, 3}, dead: []int{2}, wantStatus: types.JobCompleted},
		{name: "partial fails when nothing survived", policy: PolicyPartial, dead: []int{1, 2, 3}, wantStatus: types.JobFailed},
		{name: "strict fails on any dead page", policy: PolicyStrict, fragments: []int{1, 3}, dead: []int{2}, wantStatus: types.JobFailed},
		{name: "strict completes without dead pages", policy: PolicyStrict, fragments: []int{1, 2, 3}, wantStatus: types.JobCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			jobs := newJobs(t)
			sink := &recordingSink{}
			agg := New(NewMemoryStore(), jobs, tt.policy, zerolog.Nop(), sink)

			_, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 3})
			require.NoError(t, err)
			for _, p := range tt.fragments {
				_, err := agg.Absorb(ctx, fragment(p, fmt.Sprintf("p%d", p)))
				require.NoError(t, err)
			}
			for _, p := range tt.dead {
				_, err := agg.RecordDeadLetter(ctx, types.PageDeadLetteredEvent{JobID: "job-1", PageNumber: p, Reason: "oracle rejected page"})
				require.NoError(t, err)
			}

			require.Len(t, sink.outcomes, 1)
			out := sink.outcomes[0]
			assert.Equal(t, tt.wantStatus, out.Status)
			if len(tt.dead) > 0 {
				assert.Equal(t, tt.dead, out.DeadLetteredPages)
				assert.NotEmpty(t, out.Reason)
			}

			job, err := jobs.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, job.Status)
		})
	}
}

func TestRecordDeadLetter_IgnoredWhenFragmentExists(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := New(store, nil, PolicyStrict, zerolog.Nop())

	_, err := agg.Absorb(ctx, fragment(1, "q"))
	require.NoError(t, err)
	_, err = agg.RecordDeadLetter(ctx, types.PageDeadLetteredEvent{JobID: "job-1", PageNumber: 1})
	require.NoError(t, err)

	p, err := store.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Received)
	assert.Equal(t, 0, p.DeadLettered)
}

func TestSinkFailureDoesNotFailJob(t *testing.T) {
	ctx := context.Background()
	failing := &recordingSink{err: errors.New("redis down")}
	ok := &recordingSink{}
	agg := New(NewMemoryStore(), nil, PolicyPartial, zerolog.Nop(), failing, ok)

	_, err := agg.RecordTotalPages(ctx, types.JobDecomposed{JobID: "job-1", TotalPages: 1})
	require.NoError(t, err)
	out, err := agg.Absorb(ctx, fragment(1, "q"))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, failing.outcomes, 1)
	assert.Len(t, ok.outcomes, 1)
}

func TestHandle_Routing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := New(store, nil, PolicyPartial, zerolog.Nop())
	acker := &queuetest.Acker{}

	require.NoError(t, agg.Handle(ctx, queuetest.JSONDelivery(queue.ExchangeResults, queue.KeyFragment, fragment(1, "q"), acker, 1)))
	require.NoError(t, agg.Handle(ctx, queuetest.JSONDelivery(queue.ExchangeResults, queue.KeyPageDeadLettered,
		types.PageDeadLetteredEvent{JobID: "job-1", PageNumber: 2, Reason: "bad"}, acker, 2)))
	require.NoError(t, agg.Handle(ctx, queuetest.JSONDelivery(queue.ExchangeResults, queue.KeyDecomposed,
		types.JobDecomposed{JobID: "job-1", TotalPages: 2}, acker, 3)))

	p, err := store.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, p.Finished)
	assert.Equal(t, types.JobCompleted, p.Status)

	err = agg.Handle(ctx, queuetest.JSONDelivery(queue.ExchangeResults, "mystery", fragment(1), acker, 4))
	assert.True(t, pipeline.IsPermanent(err))

	err = agg.Handle(ctx, queuetest.JSONDelivery(queue.ExchangeResults, queue.KeyFragment, types.ResultFragment{JobID: "job-1"}, acker, 5))
	assert.True(t, pipeline.IsPermanent(err))
}
