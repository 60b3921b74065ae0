// Package service holds the submission API's business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/amrrdev/quizscan/internal/cache"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/storage"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	urlExpiryDuration = 15 * time.Minute
	MaxUploadSize     = 64 << 20
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("job not found")
	ErrConflict     = errors.New("job already exists")
	ErrNotReady     = errors.New("job not finished")
	ErrJobFailed    = errors.New("job failed")
	ErrUnavailable  = errors.New("service unavailable")
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

type Uploader interface {
	GetUploadUrl(ctx context.Context, objectName string, duration time.Duration) (string, error)
}

// ResultSource reads what the aggregator kept for a finished job.
type ResultSource interface {
	Questions(ctx context.Context, jobID string) ([]types.QuestionRecord, error)
	DeadLetteredPages(ctx context.Context, jobID string) ([]int, error)
}

type StatusCache interface {
	Get(ctx context.Context, jobID string) (*cache.Status, error)
	Put(ctx context.Context, s cache.Status) error
}

type Jobs struct {
	jobs      repository.JobRepository
	objects   storage.ObjectStore
	uploader  Uploader
	publisher queue.Publisher
	results   ResultSource
	cache     StatusCache
	logger    zerolog.Logger
}

type JobsConfig struct {
	Jobs      repository.JobRepository
	Objects   storage.ObjectStore
	Uploader  Uploader
	Publisher queue.Publisher
	Results   ResultSource
	Cache     StatusCache
	Logger    zerolog.Logger
}

func NewJobs(cfg JobsConfig) *Jobs {
	return &Jobs{
		jobs:      cfg.Jobs,
		objects:   cfg.Objects,
		uploader:  cfg.Uploader,
		publisher: cfg.Publisher,
		results:   cfg.Results,
		cache:     cfg.Cache,
		logger:    cfg.Logger,
	}
}

// SubmitInput carries either an uploaded body or the key of an object the
// caller already put through a presigned URL.
type SubmitInput struct {
	JobID     string
	Filename  string
	Body      io.Reader
	Size      int64
	ObjectKey string
}

type SubmitResponse struct {
	JobID      string          `json:"job_id"`
	Status     types.JobStatus `json:"status"`
	SourcePath string          `json:"source_path"`
}

type UploadURLResponse struct {
	PresignedUrl string `json:"pre-signed_url"`
	ObjectKey    string `json:"object_key"`
	ValidFor     string `json:"valid_for"`
}

type JobStatusResponse struct {
	JobID      string                   `json:"job_id"`
	Status     types.JobStatus          `json:"status"`
	TotalPages *int                     `json:"total_pages"`
	Error      string                   `json:"error,omitempty"`
	Pages      map[types.PageStatus]int `json:"pages,omitempty"`
	CreatedAt  *time.Time               `json:"created_at,omitempty"`
	UpdatedAt  time.Time                `json:"updated_at"`
	Cached     bool                     `json:"cached"`
}

type QuestionsResponse struct {
	JobID             string                 `json:"job_id"`
	Status            types.JobStatus        `json:"status"`
	Questions         []types.QuestionRecord `json:"questions"`
	DeadLetteredPages []int                  `json:"dead_lettered_pages,omitempty"`
}

// Submit creates a Queued job and hands it to the decomposer.
func (s *Jobs) Submit(ctx context.Context, userID string, in SubmitInput) (*SubmitResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	jobID := strings.TrimSpace(in.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	} else if !jobIDPattern.MatchString(jobID) {
		return nil, fmt.Errorf("%w: job_id must be 1-64 letters, digits, '-' or '_'", ErrInvalidInput)
	}

	var sourcePath string
	switch {
	case in.Body != nil:
		if !strings.EqualFold(path.Ext(in.Filename), ".pdf") {
			return nil, fmt.Errorf("%w: only PDF files are accepted", ErrInvalidInput)
		}
		if in.Size <= 0 || in.Size > MaxUploadSize {
			return nil, fmt.Errorf("%w: file size must be between 1 byte and %d MiB", ErrInvalidInput, MaxUploadSize>>20)
		}
		sourcePath = storage.SourceObjectName(userID, jobID+".pdf")
	case in.ObjectKey != "":
		if !strings.HasPrefix(in.ObjectKey, storage.SourcePrefix(userID)) || path.Clean(in.ObjectKey) != in.ObjectKey {
			return nil, fmt.Errorf("%w: object_key must be one of your uploads", ErrInvalidInput)
		}
		sourcePath = in.ObjectKey
	default:
		return nil, fmt.Errorf("%w: a file or object_key is required", ErrInvalidInput)
	}

	job := &types.SubmissionJob{
		JobID:      jobID,
		UserID:     userID,
		SourcePath: sourcePath,
		Status:     types.JobQueued,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobExists) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, jobID)
		}
		return nil, fmt.Errorf("%w: failed to create job: %v", ErrUnavailable, err)
	}
	log := s.logger.With().Str("job_id", jobID).Str("user_id", userID).Logger()

	if in.Body != nil {
		if err := s.objects.Put(ctx, sourcePath, in.Body, in.Size, "application/pdf"); err != nil {
			s.abandon(ctx, jobID, "failed to store upload")
			return nil, fmt.Errorf("%w: failed to store upload: %v", ErrUnavailable, err)
		}
	}

	req := types.DecomposeRequest{
		JobID:      jobID,
		UserID:     userID,
		SourcePath: sourcePath,
		CreatedAt:  job.CreatedAt,
	}
	if err := queue.PublishJSON(ctx, s.publisher, queue.ExchangeDecompose, queue.KeySubmission, req); err != nil {
		s.abandon(ctx, jobID, "failed to enqueue job")
		return nil, fmt.Errorf("%w: failed to enqueue job: %v", ErrUnavailable, err)
	}

	s.cachePut(ctx, cache.Status{JobID: jobID, UserID: userID, Status: types.JobQueued})
	log.Info().Str("source_path", sourcePath).Msg("📥 Job submitted")

	return &SubmitResponse{JobID: jobID, Status: types.JobQueued, SourcePath: sourcePath}, nil
}

func (s *Jobs) abandon(ctx context.Context, jobID, reason string) {
	if _, err := s.jobs.Transition(ctx, jobID, []types.JobStatus{types.JobQueued}, types.JobFailed, reason); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("❌ failed to mark job failed")
		return
	}
	s.cachePut(ctx, cache.Status{JobID: jobID, Status: types.JobFailed, Error: reason})
}

func (s *Jobs) cachePut(ctx context.Context, st cache.Status) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, st); err != nil {
		s.logger.Warn().Err(err).Str("job_id", st.JobID).Msg("⚠️ failed to cache job status")
	}
}

func (s *Jobs) UploadURL(ctx context.Context, userID, filename string) (*UploadURLResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if !strings.EqualFold(path.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("%w: only PDF files are accepted", ErrInvalidInput)
	}

	objectKey := storage.SourceObjectName(userID, filename)
	presignedUrl, err := s.uploader.GetUploadUrl(ctx, objectKey, urlExpiryDuration)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate upload URL: %v", ErrUnavailable, err)
	}

	return &UploadURLResponse{
		PresignedUrl: presignedUrl,
		ObjectKey:    objectKey,
		ValidFor:     fmt.Sprintf("%.0f minutes", urlExpiryDuration.Minutes()),
	}, nil
}

func (s *Jobs) owned(ctx context.Context, userID, jobID string) (*types.SubmissionJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load job: %v", ErrUnavailable, err)
	}
	// other users' jobs are reported as missing
	if job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

// Status answers from the status cache when it knows the job's owner. The
// repository is read when the cache misses or when page counts are wanted.
func (s *Jobs) Status(ctx context.Context, userID, jobID string, withPages bool) (*JobStatusResponse, error) {
	if s.cache != nil && !withPages {
		cached, err := s.cache.Get(ctx, jobID)
		switch {
		case err == nil && cached.UserID == userID:
			return &JobStatusResponse{
				JobID:      jobID,
				Status:     cached.Status,
				TotalPages: cached.TotalPages,
				Error:      cached.Error,
				UpdatedAt:  cached.UpdatedAt,
				Cached:     true,
			}, nil
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("⚠️ status cache read failed")
		}
	}

	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	resp := &JobStatusResponse{
		JobID:      job.JobID,
		Status:     job.Status,
		TotalPages: job.TotalPages,
		Error:      job.Error,
		CreatedAt:  &job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}

	if withPages {
		pages, err := s.jobs.Pages(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load pages: %v", ErrUnavailable, err)
		}
		resp.Pages = repository.PageCounts(pages)
	}
	return resp, nil
}

// Questions returns the ordered questions of a Completed job.
func (s *Jobs) Questions(ctx context.Context, userID, jobID string) (*QuestionsResponse, error) {
	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case types.JobCompleted:
	case types.JobFailed:
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, job.Status)
	}

	questions, err := s.results.Questions(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load questions: %v", ErrUnavailable, err)
	}
	dead, err := s.results.DeadLetteredPages(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load dead-lettered pages: %v", ErrUnavailable, err)
	}

	return &QuestionsResponse{
		JobID:             jobID,
		Status:            job.Status,
		Questions:         questions,
		DeadLetteredPages: dead,
	}, nil
}
