package decomposer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/queue/queuetest"
	"github.com/amrrdev/quizscan/internal/rasterizer"
	"github.com/amrrdev/quizscan/internal/rasterizer/rastertest"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/storage"
	"github.com/amrrdev/quizscan/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRasterizer struct {
	pages int
	err   error
	calls int
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, pdfPath, outDir string) ([]rasterizer.Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	pages := make([]rasterizer.Page, 0, f.pages)
	for i := 1; i <= f.pages; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("png-%d", i)), 0o644); err != nil {
			return nil, err
		}
		pages = append(pages, rasterizer.Page{Number: i, Path: path, ContentType: "image/png"})
	}
	return pages, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []types.JobStatus
}

func (n *recordingNotifier) JobStatusChanged(_ context.Context, _ string, status types.JobStatus, _ *int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

type fixture struct {
	jobs     *repository.MemoryJobRepository
	objects  *storage.Memory
	raster   *fakeRasterizer
	pub      *queuetest.Publisher
	notifier *recordingNotifier
	d        *Decomposer
}

func newFixture(t *testing.T, pdf []byte, rendered int) *fixture {
	t.Helper()
	f := &fixture{
		jobs:     repository.NewMemoryJobRepository(),
		objects:  storage.NewMemory(),
		raster:   &fakeRasterizer{pages: rendered},
		pub:      &queuetest.Publisher{},
		notifier: &recordingNotifier{},
	}
	f.d = New(Config{
		Jobs:       f.jobs,
		Objects:    f.objects,
		Rasterizer: f.raster,
		Publisher:  f.pub,
		Notifier:   f.notifier,
		WorkDir:    t.TempDir(),
		Logger:     zerolog.Nop(),
	})

	ctx := context.Background()
	require.NoError(t, f.objects.Put(ctx, "uploads/u1/job-1.pdf", bytes.NewReader(pdf), int64(len(pdf)), "application/pdf"))
	require.NoError(t, f.jobs.Create(ctx, &types.SubmissionJob{JobID: "job-1", UserID: "u1", SourcePath: "uploads/u1/job-1.pdf"}))
	return f
}

func request() types.DecomposeRequest {
	return types.DecomposeRequest{JobID: "job-1", UserID: "u1", SourcePath: "uploads/u1/job-1.pdf"}
}

func (f *fixture) job(t *testing.T) *types.SubmissionJob {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	return job
}

func (f *fixture) setPage(t *testing.T, page int, status types.PageStatus) {
	t.Helper()
	_, err := f.jobs.SetPageStatus(context.Background(), "job-1", page, status, "")
	require.NoError(t, err)
}

// deliver runs one consume-loop iteration with a settler that gives up after maxAttempts.
func (f *fixture) deliver(d amqp.Delivery, maxAttempts int) queue.Outcome {
	ctx := context.Background()
	settler := queue.NewSettler(f.pub, queue.RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, zerolog.Nop()).OnDeadLetter(f.d.OnDeadLetter)
	return settler.Settle(ctx, d, f.d.Handle(ctx, d))
}

func publishedPages(t *testing.T, pub *queuetest.Publisher) []int {
	t.Helper()
	var numbers []int
	for _, m := range pub.ByKey(queue.KeyPage) {
		assert.Equal(t, queue.ExchangeExtract, m.Exchange)
		var p types.PageJob
		require.NoError(t, m.Decode(&p))
		numbers = append(numbers, p.PageNumber)
	}
	return numbers
}

func TestDecompose_OneJobPerPage(t *testing.T) {
	f := newFixture(t, rastertest.MinimalPDF(3), 3)

	pages, err := f.d.Decompose(context.Background(), request())
	require.NoError(t, err)

	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, fmt.Sprintf("pages/job-1/page-%d.png", i+1), p.ImagePath)
	}
	assert.Equal(t, []int{1, 2, 3}, publishedPages(t, f.pub))
	assert.Equal(t, []string{"pages/job-1/page-1.png", "pages/job-1/page-2.png", "pages/job-1/page-3.png"}, f.objects.Keys("pages/job-1/"))

	job := f.job(t)
	assert.Equal(t, types.JobInProgress, job.Status)
	require.NotNil(t, job.TotalPages)
	assert.Equal(t, 3, *job.TotalPages)

	events := f.pub.ByKey(queue.KeyDecomposed)
	require.Len(t, events, 1)
	var ev types.JobDecomposed
	require.NoError(t, events[0].Decode(&ev))
	assert.Equal(t, types.JobDecomposed{JobID: "job-1", UserID: "u1", TotalPages: 3}, ev)

	assert.Equal(t, []types.JobStatus{types.JobDecomposing, types.JobInProgress}, f.notifier.statuses)
}

func TestDecompose_RasterizationFailures(t *testing.T) {
	tests := []struct {
		name      string
		pdf       []byte
		rendered  int
		rasterErr error
	}{
		{name: "corrupt file", pdf: []byte("this is not a pdf"), rendered: 1},
		{name: "tool failure", pdf: rastertest.MinimalPDF(2), rasterErr: pipeline.RasterizationError("pdftoppm failed", errors.New("exit status 1"))},
		{name: "page count mismatch", pdf: rastertest.MinimalPDF(3), rendered: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.pdf, tt.rendered)
			f.raster.err = tt.rasterErr

			pages, err := f.d.Decompose(context.Background(), request())
			require.Error(t, err)
			assert.True(t, pipeline.IsRasterization(err))
			assert.Nil(t, pages)

			job := f.job(t)
			assert.Equal(t, types.JobFailed, job.Status)
			assert.NotEmpty(t, job.Error)
			assert.Nil(t, job.TotalPages)
			assert.Empty(t, f.pub.Messages)
			assert.Empty(t, f.objects.Keys("pages/"))
		})
	}
}

func TestDecompose_MissingSourceFailsJob(t *testing.T) {
	f := newFixture(t, rastertest.MinimalPDF(1), 1)
	require.NoError(t, f.objects.Remove(context.Background(), "uploads/u1/job-1.pdf"))

	_, err := f.d.Decompose(context.Background(), request())
	assert.True(t, pipeline.IsRasterization(err))
	assert.Equal(t, types.JobFailed, f.job(t).Status)
	assert.Equal(t, 0, f.raster.calls)
}

func TestDecompose_RedeliveryRepublishesOnlyQueuedPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rastertest.MinimalPDF(3), 3)

	_, err := f.d.Decompose(ctx, request())
	require.NoError(t, err)

	f.setPage(t, 1, types.PageDone)
	f.setPage(t, 2, types.PageProcessing)
	require.NoError(t, f.objects.Remove(ctx, "pages/job-1/page-1.png"))
	f.pub.Messages = nil

	_, err = f.d.Decompose(ctx, request())
	require.NoError(t, err)

	assert.Equal(t, []int{3}, publishedPages(t, f.pub))
	assert.Len(t, f.pub.ByKey(queue.KeyDecomposed), 1)
	// the consumed page image is not uploaded again
	assert.Equal(t, []string{"pages/job-1/page-2.png", "pages/job-1/page-3.png"}, f.objects.Keys("pages/job-1/"))

	job := f.job(t)
	assert.Equal(t, types.JobInProgress, job.Status)
	assert.Equal(t, 3, *job.TotalPages)
}

func TestDecompose_RedeliveryAfterAllPagesPublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rastertest.MinimalPDF(3), 3)

	_, err := f.d.Decompose(ctx, request())
	require.NoError(t, err)
	f.setPage(t, 1, types.PageDone)
	f.setPage(t, 2, types.PageDone)
	f.setPage(t, 3, types.PageProcessing)
	require.NoError(t, f.objects.Remove(ctx, "pages/job-1/page-1.png"))
	require.NoError(t, f.objects.Remove(ctx, "pages/job-1/page-2.png"))
	f.pub.Messages = nil
	notified := len(f.notifier.statuses)

	_, err = f.d.Decompose(ctx, request())
	require.NoError(t, err)

	assert.Empty(t, publishedPages(t, f.pub))
	assert.Len(t, f.pub.ByKey(queue.KeyDecomposed), 1, "the aggregator hears the page count again")
	assert.Equal(t, []string{"pages/job-1/page-3.png"}, f.objects.Keys("pages/job-1/"))
	assert.Len(t, f.notifier.statuses, notified, "no status change on redelivery")

	job := f.job(t)
	assert.Equal(t, types.JobInProgress, job.Status)
	assert.Equal(t, 3, *job.TotalPages)

	pages, err := f.jobs.Pages(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.PageDone, pages[0].Status)
	assert.Equal(t, types.PageProcessing, pages[2].Status)
}

func TestDecompose_RetriesExhaustedFailsJob(t *testing.T) {
	f := newFixture(t, rastertest.MinimalPDF(2), 2)
	f.pub.Err = errors.New("connection closed")
	acker := &queuetest.Acker{}

	out := f.deliver(queuetest.JSONDelivery(queue.ExchangeDecompose, queue.KeySubmission, request(), acker, 1), 1)
	assert.Equal(t, queue.OutcomeDeadLettered, out)
	assert.Equal(t, []uint64{1}, acker.Nacked)

	job := f.job(t)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Contains(t, job.Error, "failed to publish")
	assert.Equal(t, types.JobFailed, f.notifier.statuses[len(f.notifier.statuses)-1])
}

func TestDecompose_DeadLetterHook(t *testing.T) {
	tests := []struct {
		name   string
		status types.JobStatus
		want   types.JobStatus
	}{
		{name: "queued", status: types.JobQueued, want: types.JobFailed},
		{name: "decomposing", status: types.JobDecomposing, want: types.JobFailed},
		{name: "in progress", status: types.JobInProgress, want: types.JobFailed},
		{name: "completed stays completed", status: types.JobCompleted, want: types.JobCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, rastertest.MinimalPDF(1), 1)
			if tt.status != types.JobQueued {
				_, err := f.jobs.Transition(ctx, "job-1", []types.JobStatus{types.JobQueued}, tt.status, "")
				require.NoError(t, err)
			}

			d := queuetest.JSONDelivery(queue.ExchangeDecompose, queue.KeySubmission, request(), &queuetest.Acker{}, 1)
			f.d.OnDeadLetter(ctx, d, pipeline.TransientError("object store down", nil))

			assert.Equal(t, tt.want, f.job(t).Status)
		})
	}

	t.Run("undecodable or unknown job", func(t *testing.T) {
		f := newFixture(t, rastertest.MinimalPDF(1), 1)
		f.d.OnDeadLetter(context.Background(), amqp.Delivery{Body: []byte("{oops")}, pipeline.PermanentError("bad body", nil))
		f.d.OnDeadLetter(context.Background(), queuetest.JSONDelivery(queue.ExchangeDecompose, queue.KeySubmission,
			types.DecomposeRequest{JobID: "nope"}, &queuetest.Acker{}, 1), pipeline.PermanentError("unknown job", nil))

		assert.Equal(t, types.JobQueued, f.job(t).Status)
		assert.Empty(t, f.notifier.statuses)
	})
}

func TestDecompose_SkipsFinishedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rastertest.MinimalPDF(1), 1)
	_, err := f.jobs.Transition(ctx, "job-1", []types.JobStatus{types.JobQueued}, types.JobFailed, "earlier failure")
	require.NoError(t, err)

	pages, err := f.d.Decompose(ctx, request())
	require.NoError(t, err)
	assert.Nil(t, pages)
	assert.Equal(t, 0, f.raster.calls)
	assert.Empty(t, f.pub.Messages)
}

func TestDecompose_PublishFailureIsTransient(t *testing.T) {
	f := newFixture(t, rastertest.MinimalPDF(2), 2)
	f.pub.Err = errors.New("connection closed")

	_, err := f.d.Decompose(context.Background(), request())
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))

	job := f.job(t)
	assert.Equal(t, types.JobInProgress, job.Status)
	assert.Equal(t, 2, *job.TotalPages)
}

func TestHandle(t *testing.T) {
	f := newFixture(t, rastertest.MinimalPDF(2), 2)
	acker := &queuetest.Acker{}

	err := f.d.Handle(context.Background(), amqp.Delivery{Acknowledger: acker, Body: []byte("{oops")})
	assert.True(t, pipeline.IsPermanent(err))

	err = f.d.Handle(context.Background(), queuetest.JSONDelivery(queue.ExchangeDecompose, queue.KeySubmission,
		types.DecomposeRequest{JobID: "nope"}, acker, 1))
	assert.True(t, pipeline.IsPermanent(err))

	err = f.d.Handle(context.Background(), queuetest.JSONDelivery(queue.ExchangeDecompose, queue.KeySubmission, request(), acker, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, publishedPages(t, f.pub))
}
