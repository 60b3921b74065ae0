package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amrrdev/quizscan/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobExists    = errors.New("job already exists")
	ErrPageNotFound = errors.New("page not found")
)

// JobRepository is the job and page state store shared by every stage.
type JobRepository interface {
	Create(ctx context.Context, job *types.SubmissionJob) error
	Get(ctx context.Context, jobID string) (*types.SubmissionJob, error)

	// Transition moves the job to `to` only when its current status is one of
	// `from`. It reports whether the row changed.
	Transition(ctx context.Context, jobID string, from []types.JobStatus, to types.JobStatus, reason string) (bool, error)
	// SetTotalPages records the page count once. Later calls are no-ops.
	SetTotalPages(ctx context.Context, jobID string, total int) (bool, error)

	AddPages(ctx context.Context, pages []types.PageJob) error
	Page(ctx context.Context, jobID string, page int) (*types.PageJob, error)
	Pages(ctx context.Context, jobID string) ([]types.PageJob, error)
	// SetPageStatus never moves a page out of Done. It reports whether the
	// row changed.
	SetPageStatus(ctx context.Context, jobID string, page int, status types.PageStatus, reason string) (bool, error)
}

type postgresJobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &postgresJobRepository{pool: pool}
}

func (r *postgresJobRepository) Create(ctx context.Context, job *types.SubmissionJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = types.JobQueued
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO submission_jobs (job_id, user_id, source_path, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.JobID, job.UserID, job.SourcePath, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrJobExists
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *postgresJobRepository) Get(ctx context.Context, jobID string) (*types.SubmissionJob, error) {
	var (
		job    types.SubmissionJob
		status string
		total  *int
	)
	err := r.pool.QueryRow(ctx, `
		SELECT job_id, user_id, source_path, status, total_pages, error, created_at, updated_at
		FROM submission_jobs WHERE job_id = $1`, jobID,
	).Scan(&job.JobID, &job.UserID, &job.SourcePath, &status, &total, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	job.Status = types.JobStatus(status)
	job.TotalPages = total
	return &job, nil
}

func (r *postgresJobRepository) Transition(ctx context.Context, jobID string, from []types.JobStatus, to types.JobStatus, reason string) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE submission_jobs
		SET status = $2, error = $3, updated_at = NOW()
		WHERE job_id = $1 AND status = ANY($4)`,
		jobID, string(to), reason, allowed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *postgresJobRepository) SetTotalPages(ctx context.Context, jobID string, total int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE submission_jobs
		SET total_pages = $2, updated_at = NOW()
		WHERE job_id = $1 AND total_pages IS NULL`,
		jobID, total,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set total pages: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *postgresJobRepository) AddPages(ctx context.Context, pages []types.PageJob) error {
	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(`
			INSERT INTO page_jobs (job_id, page_number, image_path, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (job_id, page_number) DO NOTHING`,
			p.JobID, p.PageNumber, p.ImagePath, string(types.PageQueued),
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert pages: %w", err)
	}
	return nil
}

func (r *postgresJobRepository) Page(ctx context.Context, jobID string, page int) (*types.PageJob, error) {
	var (
		p      types.PageJob
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT job_id, page_number, image_path, status
		FROM page_jobs WHERE job_id = $1 AND page_number = $2`, jobID, page,
	).Scan(&p.JobID, &p.PageNumber, &p.ImagePath, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load page: %w", err)
	}
	p.Status = types.PageStatus(status)
	return &p, nil
}

func (r *postgresJobRepository) Pages(ctx context.Context, jobID string) ([]types.PageJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, page_number, image_path, status
		FROM page_jobs WHERE job_id = $1 ORDER BY page_number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []types.PageJob
	for rows.Next() {
		var (
			p      types.PageJob
			status string
		)
		if err := rows.Scan(&p.JobID, &p.PageNumber, &p.ImagePath, &status); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.Status = types.PageStatus(status)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (r *postgresJobRepository) SetPageStatus(ctx context.Context, jobID string, page int, status types.PageStatus, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE page_jobs SET status = $3, error = $4, updated_at = NOW()
		WHERE job_id = $1 AND page_number = $2 AND status <> $5`,
		jobID, page, string(status), reason, string(types.PageDone),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update page status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Page(ctx, jobID, page); err != nil {
		return false, err
	}
	return false, nil
}

// PageCounts groups a job's pages by status.
func PageCounts(pages []types.PageJob) map[types.PageStatus]int {
	counts := map[types.PageStatus]int{
		types.PageQueued:       0,
		types.PageProcessing:   0,
		types.PageDone:         0,
		types.PageDeadLettered: 0,
	}
	for _, p := range pages {
		counts[p.Status]++
	}
	return counts
}
