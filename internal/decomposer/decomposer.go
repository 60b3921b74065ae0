// Package decomposer splits one submitted PDF into per-page extraction jobs.
package decomposer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/rasterizer"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/storage"
	"github.com/amrrdev/quizscan/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// StatusNotifier hears about every job status change the decomposer makes.
type StatusNotifier interface {
	JobStatusChanged(ctx context.Context, jobID string, status types.JobStatus, totalPages *int)
}

type Decomposer struct {
	jobs       repository.JobRepository
	objects    storage.ObjectStore
	rasterizer rasterizer.Rasterizer
	publisher  queue.Publisher
	notifier   StatusNotifier
	workDir    string
	logger     zerolog.Logger
}

type Config struct {
	Jobs       repository.JobRepository
	Objects    storage.ObjectStore
	Rasterizer rasterizer.Rasterizer
	Publisher  queue.Publisher
	Notifier   StatusNotifier
	WorkDir    string
	Logger     zerolog.Logger
}

func New(cfg Config) *Decomposer {
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Decomposer{
		jobs:       cfg.Jobs,
		objects:    cfg.Objects,
		rasterizer: cfg.Rasterizer,
		publisher:  cfg.Publisher,
		notifier:   cfg.Notifier,
		workDir:    workDir,
		logger:     cfg.Logger,
	}
}

// Handle is the consume-loop body for the pdf-decompose queue.
func (d *Decomposer) Handle(ctx context.Context, msg amqp.Delivery) error {
	var req types.DecomposeRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return pipeline.PermanentError("failed to decode decompose request", err)
	}
	if req.JobID == "" {
		return pipeline.PermanentError("decompose request without job id", nil)
	}
	_, err := d.Decompose(ctx, req)
	return err
}

// Decompose rasterizes the job's PDF and publishes one PageJob per page.
// Rasterization problems fail the job for good. On redelivery the page count is
// kept and only pages still Queued are uploaded and published again.
func (d *Decomposer) Decompose(ctx context.Context, req types.DecomposeRequest) ([]types.PageJob, error) {
	log := d.logger.With().Str("job_id", req.JobID).Logger()

	job, err := d.jobs.Get(ctx, req.JobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, pipeline.PermanentError("unknown job", err)
	}
	if err != nil {
		return nil, pipeline.TransientError("failed to load job", err)
	}
	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("⏭️  job already finished, skipping")
		return nil, nil
	}

	if job.Status == types.JobQueued {
		if err := d.transition(ctx, job.JobID, []types.JobStatus{types.JobQueued}, types.JobDecomposing, "", nil); err != nil {
			return nil, err
		}
	}

	tmp, err := os.MkdirTemp(d.workDir, "decompose-*")
	if err != nil {
		return nil, pipeline.TransientError("failed to create work dir", err)
	}
	defer os.RemoveAll(tmp)

	src := filepath.Join(tmp, "source.pdf")
	if err := d.objects.FGet(ctx, job.SourcePath, src); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, d.fail(ctx, job, pipeline.RasterizationError("source pdf not found", err))
		}
		return nil, pipeline.TransientError("failed to download source pdf", err)
	}

	pageCount, err := rasterizer.Inspect(src)
	if err != nil {
		return nil, d.fail(ctx, job, err)
	}

	outDir := filepath.Join(tmp, "pages")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return nil, pipeline.TransientError("failed to create page dir", err)
	}

	rendered, err := d.rasterizer.Rasterize(ctx, src, outDir)
	if err != nil {
		if pipeline.IsRasterization(err) {
			return nil, d.fail(ctx, job, err)
		}
		return nil, err
	}
	if len(rendered) != pageCount {
		return nil, d.fail(ctx, job, pipeline.RasterizationError(
			fmt.Sprintf("rendered %d page images for a %d page document", len(rendered), pageCount), nil))
	}
	if job.TotalPages != nil && *job.TotalPages != pageCount {
		return nil, d.fail(ctx, job, pipeline.RasterizationError(
			fmt.Sprintf("document now has %d pages, job recorded %d", pageCount, *job.TotalPages), nil))
	}

	pages := make([]types.PageJob, len(rendered))
	for i, r := range rendered {
		pages[i] = types.PageJob{
			JobID:      job.JobID,
			UserID:     job.UserID,
			PageNumber: r.Number,
			ImagePath:  storage.PageObjectName(job.JobID, r.Number, filepath.Ext(r.Path)),
			Status:     types.PageQueued,
		}
	}

	pending, err := d.pendingPages(ctx, job, pages)
	if err != nil {
		return nil, err
	}

	for i, r := range rendered {
		if _, ok := pending[r.Number]; !ok {
			continue
		}
		if err := d.upload(ctx, r, pages[i].ImagePath); err != nil {
			return nil, err
		}
	}

	if err := d.jobs.AddPages(ctx, pages); err != nil {
		return nil, pipeline.TransientError("failed to record pages", err)
	}
	if _, err := d.jobs.SetTotalPages(ctx, job.JobID, pageCount); err != nil {
		return nil, pipeline.TransientError("failed to record page count", err)
	}
	if err := d.transition(ctx, job.JobID, []types.JobStatus{types.JobDecomposing}, types.JobInProgress, "", &pageCount); err != nil {
		return nil, err
	}

	for _, p := range pages {
		if _, ok := pending[p.PageNumber]; !ok {
			continue
		}
		if err := queue.PublishJSON(ctx, d.publisher, queue.ExchangeExtract, queue.KeyPage, p); err != nil {
			return nil, pipeline.TransientError(fmt.Sprintf("failed to publish page %d", p.PageNumber), err)
		}
	}

	event := types.JobDecomposed{JobID: job.JobID, UserID: job.UserID, TotalPages: pageCount}
	if err := queue.PublishJSON(ctx, d.publisher, queue.ExchangeResults, queue.KeyDecomposed, event); err != nil {
		return nil, pipeline.TransientError("failed to publish decomposed event", err)
	}

	log.Info().Int("total_pages", pageCount).Int("published", len(pending)).Msg("✓ PDF decomposed")
	return pages, nil
}

// OnDeadLetter fails the job when its decompose message is given up on, so a
// job whose pages were never all published cannot stay in flight forever.
func (d *Decomposer) OnDeadLetter(ctx context.Context, msg amqp.Delivery, cause error) {
	var req types.DecomposeRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil || req.JobID == "" {
		d.logger.Error().Err(cause).Msg("💀 undecodable decompose request dead-lettered")
		return
	}

	from := []types.JobStatus{types.JobQueued, types.JobDecomposing, types.JobInProgress}
	changed, err := d.jobs.Transition(ctx, req.JobID, from, types.JobFailed, cause.Error())
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", req.JobID).Msg("❌ failed to mark job failed")
		return
	}
	if !changed {
		return
	}
	d.logger.Error().Err(cause).Str("job_id", req.JobID).Msg("💀 decompose gave up, job failed")
	if d.notifier != nil {
		d.notifier.JobStatusChanged(ctx, req.JobID, types.JobFailed, nil)
	}
}

// pendingPages returns the page numbers that still need publishing.
func (d *Decomposer) pendingPages(ctx context.Context, job *types.SubmissionJob, pages []types.PageJob) (map[int]struct{}, error) {
	pending := make(map[int]struct{}, len(pages))
	for _, p := range pages {
		pending[p.PageNumber] = struct{}{}
	}
	if job.TotalPages == nil {
		return pending, nil
	}

	existing, err := d.jobs.Pages(ctx, job.JobID)
	if err != nil {
		return nil, pipeline.TransientError("failed to load pages", err)
	}
	for _, p := range existing {
		if p.Status != types.PageQueued {
			delete(pending, p.PageNumber)
		}
	}
	return pending, nil
}

func (d *Decomposer) upload(ctx context.Context, page rasterizer.Page, objectName string) error {
	f, err := os.Open(page.Path)
	if err != nil {
		return pipeline.TransientError(fmt.Sprintf("failed to open page %d image", page.Number), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return pipeline.TransientError(fmt.Sprintf("failed to stat page %d image", page.Number), err)
	}
	if err := d.objects.Put(ctx, objectName, f, info.Size(), page.ContentType); err != nil {
		return pipeline.TransientError(fmt.Sprintf("failed to upload page %d image", page.Number), err)
	}
	return nil
}

// fail moves the job to Failed and returns cause for the consume loop to dead-letter.
func (d *Decomposer) fail(ctx context.Context, job *types.SubmissionJob, cause error) error {
	d.logger.Error().Err(cause).Str("job_id", job.JobID).Msg("💀 rasterization failed, failing job")

	from := []types.JobStatus{types.JobQueued, types.JobDecomposing}
	if err := d.transition(ctx, job.JobID, from, types.JobFailed, cause.Error(), nil); err != nil {
		return err
	}
	if !pipeline.IsRasterization(cause) {
		return pipeline.RasterizationError("rasterization failed", cause)
	}
	return cause
}

func (d *Decomposer) transition(ctx context.Context, jobID string, from []types.JobStatus, to types.JobStatus, reason string, totalPages *int) error {
	changed, err := d.jobs.Transition(ctx, jobID, from, to, reason)
	if err != nil {
		return pipeline.TransientError(fmt.Sprintf("failed to move job to %s", to), err)
	}
	if changed && d.notifier != nil {
		d.notifier.JobStatusChanged(ctx, jobID, to, totalPages)
	}
	return nil
}
