// Package worker runs the page extraction stage and the consume-loop pool every stage binary uses.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/amrrdev/quizscan/internal/parser"
	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/storage"
	"github.com/amrrdev/quizscan/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Oracle reads raw text out of one page image.
type Oracle interface {
	Extract(ctx context.Context, image []byte, mimeType string) (string, error)
}

// PageStore is the part of the job repository the extraction stage touches.
type PageStore interface {
	Page(ctx context.Context, jobID string, page int) (*types.PageJob, error)
	SetPageStatus(ctx context.Context, jobID string, page int, status types.PageStatus, reason string) (bool, error)
}

type ExtractionWorker struct {
	pages     PageStore
	objects   storage.ObjectStore
	oracle    Oracle
	parser    *parser.QuestionParser
	publisher queue.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

type ExtractionConfig struct {
	Pages     PageStore
	Objects   storage.ObjectStore
	Oracle    Oracle
	Publisher queue.Publisher
	Logger    zerolog.Logger
}

func NewExtractionWorker(cfg ExtractionConfig) *ExtractionWorker {
	return &ExtractionWorker{
		pages:     cfg.Pages,
		objects:   cfg.Objects,
		oracle:    cfg.Oracle,
		parser:    parser.NewQuestionParser(),
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Handle is the consume-loop body for the page-extract queue.
func (w *ExtractionWorker) Handle(ctx context.Context, d amqp.Delivery) error {
	var job types.PageJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		return pipeline.PermanentError("failed to decode page job", err)
	}
	if job.JobID == "" || job.PageNumber < 1 || job.ImagePath == "" {
		return pipeline.PermanentError(fmt.Sprintf("invalid page job %q page %d", job.JobID, job.PageNumber), nil)
	}
	_, err := w.Process(ctx, job)
	return err
}

// Process turns one page into a published ResultFragment. A page already Done
// is a duplicate delivery and is skipped, including when another copy of the
// same PageJob finishes while this one is in flight.
func (w *ExtractionWorker) Process(ctx context.Context, job types.PageJob) (*types.ResultFragment, error) {
	log := w.logger.With().Str("job_id", job.JobID).Int("page", job.PageNumber).Logger()

	page, err := w.pages.Page(ctx, job.JobID, job.PageNumber)
	if errors.Is(err, repository.ErrPageNotFound) {
		return nil, pipeline.PermanentError("unknown page", err)
	}
	if err != nil {
		return nil, pipeline.TransientError("failed to load page", err)
	}
	if page.Status == types.PageDone {
		log.Info().Msg("⏭️  page already done, skipping duplicate")
		return nil, nil
	}

	claimed, err := w.pages.SetPageStatus(ctx, job.JobID, job.PageNumber, types.PageProcessing, "")
	if err != nil {
		return nil, pipeline.TransientError("failed to mark page processing", err)
	}
	if !claimed {
		log.Info().Msg("⏭️  page finished by another delivery, skipping")
		return nil, nil
	}

	image, err := w.objects.Get(ctx, job.ImagePath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		// the image is removed once a page is done
		current, lookupErr := w.pages.Page(ctx, job.JobID, job.PageNumber)
		if lookupErr != nil {
			return nil, pipeline.TransientError("failed to reload page", lookupErr)
		}
		if current.Status == types.PageDone {
			log.Info().Msg("⏭️  page finished by another delivery, skipping")
			return nil, nil
		}
		return nil, pipeline.PermanentError("page image missing", err)
	}
	if err != nil {
		return nil, pipeline.TransientError("failed to download page image", err)
	}

	text, err := w.oracle.Extract(ctx, image, contentType(job.ImagePath))
	if err != nil {
		return nil, err
	}

	fragment := &types.ResultFragment{
		JobID:       job.JobID,
		PageNumber:  job.PageNumber,
		Questions:   w.parser.Parse(text, job.PageNumber),
		CompletedAt: w.now().UTC(),
	}
	if err := queue.PublishJSON(ctx, w.publisher, queue.ExchangeResults, queue.KeyFragment, fragment); err != nil {
		return nil, pipeline.TransientError("failed to publish fragment", err)
	}

	if _, err := w.pages.SetPageStatus(ctx, job.JobID, job.PageNumber, types.PageDone, ""); err != nil {
		return nil, pipeline.TransientError("failed to mark page done", err)
	}
	if err := w.objects.Remove(ctx, job.ImagePath); err != nil {
		log.Warn().Err(err).Msg("⚠️  failed to delete page image")
	}

	log.Info().Int("questions", len(fragment.Questions)).Msg("✅ Page extracted")
	return fragment, nil
}

// OnDeadLetter records a page the stage gave up on and tells the aggregator
// it will never produce a fragment. The page image stays for inspection. A
// page another delivery already finished keeps its fragment and no event is sent.
func (w *ExtractionWorker) OnDeadLetter(ctx context.Context, d amqp.Delivery, cause error) {
	var job types.PageJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.JobID == "" || job.PageNumber < 1 {
		w.logger.Error().Err(cause).Msg("💀 undecodable page job dead-lettered")
		return
	}
	log := w.logger.With().Str("job_id", job.JobID).Int("page", job.PageNumber).Logger()

	reason := cause.Error()
	marked, err := w.pages.SetPageStatus(ctx, job.JobID, job.PageNumber, types.PageDeadLettered, reason)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("❌ failed to mark page dead-lettered")
	case !marked:
		log.Warn().Str("reason", reason).Msg("⚠️  dead-lettered copy of a done page, keeping its fragment")
		return
	}

	event := types.PageDeadLetteredEvent{JobID: job.JobID, PageNumber: job.PageNumber, Reason: reason}
	if err := queue.PublishJSON(ctx, w.publisher, queue.ExchangeResults, queue.KeyPageDeadLettered, event); err != nil {
		log.Error().Err(err).Msg("❌ failed to publish dead-letter event")
	}
}

func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "image/png"
}
