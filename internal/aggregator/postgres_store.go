package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amrrdev/quizscan/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore shares aggregate state between competing aggregator instances.
// The (job_id, page_number) keys make fragments idempotent and the conditional
// update in Finish lets exactly one instance finish a job.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SetTotalPages(ctx context.Context, jobID string, total int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aggregates (job_id, total_pages) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE
		SET total_pages = COALESCE(aggregates.total_pages, EXCLUDED.total_pages)`,
		jobID, total,
	)
	if err != nil {
		return fmt.Errorf("failed to set total pages: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddFragment(ctx context.Context, f types.ResultFragment) (bool, error) {
	questions := f.Questions
	if questions == nil {
		questions = []types.QuestionRecord{}
	}
	payload, err := json.Marshal(questions)
	if err != nil {
		return false, fmt.Errorf("failed to marshal questions: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO result_fragments (job_id, page_number, questions, completed_at)
		SELECT $1::text, $2::int, $3::jsonb, $4::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM aggregates WHERE job_id = $1 AND finished_at IS NOT NULL
		)
		ON CONFLICT (job_id, page_number) DO NOTHING`,
		f.JobID, f.PageNumber, payload, f.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert fragment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkDeadLettered(ctx context.Context, jobID string, page int, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO dead_lettered_pages (job_id, page_number, reason)
		SELECT $1::text, $2::int, $3::text
		WHERE NOT EXISTS (
			SELECT 1 FROM aggregates WHERE job_id = $1 AND finished_at IS NOT NULL
		)
		AND NOT EXISTS (
			SELECT 1 FROM result_fragments WHERE job_id = $1 AND page_number = $2
		)
		ON CONFLICT (job_id, page_number) DO NOTHING`,
		jobID, page, reason,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert dead-lettered page: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Progress(ctx context.Context, jobID string) (Progress, error) {
	var (
		p      Progress
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			a.total_pages,
			a.finished_at IS NOT NULL,
			COALESCE(a.status, ''),
			(SELECT COUNT(*) FROM result_fragments f
			 WHERE f.job_id = j.job_id
			 AND (a.total_pages IS NULL OR f.page_number <= a.total_pages)),
			(SELECT COUNT(*) FROM dead_lettered_pages d
			 WHERE d.job_id = j.job_id
			 AND (a.total_pages IS NULL OR d.page_number <= a.total_pages)
			 AND NOT EXISTS (
				SELECT 1 FROM result_fragments f WHERE f.job_id = d.job_id AND f.page_number = d.page_number
			 ))
		FROM (SELECT $1::text AS job_id) j
		LEFT JOIN aggregates a ON a.job_id = j.job_id`,
		jobID,
	).Scan(&p.TotalPages, &p.Finished, &status, &p.Received, &p.DeadLettered)
	if err != nil {
		return Progress{}, fmt.Errorf("failed to load progress: %w", err)
	}
	p.Status = types.JobStatus(status)
	return p, nil
}

func (s *PostgresStore) Questions(ctx context.Context, jobID string) ([]types.QuestionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.questions FROM result_fragments f
		LEFT JOIN aggregates a ON a.job_id = f.job_id
		WHERE f.job_id = $1
		AND (a.total_pages IS NULL OR f.page_number <= a.total_pages)
		ORDER BY f.page_number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}
	defer rows.Close()

	out := []types.QuestionRecord{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		var qs []types.QuestionRecord
		if err := json.Unmarshal(payload, &qs); err != nil {
			return nil, fmt.Errorf("failed to decode fragment: %w", err)
		}
		out = append(out, qs...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortQuestions(out)
	return out, nil
}

func (s *PostgresStore) DeadLetteredPages(ctx context.Context, jobID string) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.page_number FROM dead_lettered_pages d
		LEFT JOIN aggregates a ON a.job_id = d.job_id
		WHERE d.job_id = $1
		AND (a.total_pages IS NULL OR d.page_number <= a.total_pages)
		AND NOT EXISTS (
			SELECT 1 FROM result_fragments f WHERE f.job_id = d.job_id AND f.page_number = d.page_number
		)
		ORDER BY d.page_number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dead-lettered pages: %w", err)
	}
	defer rows.Close()

	var pages []int
	for rows.Next() {
		var page int
		if err := rows.Scan(&page); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func (s *PostgresStore) Finish(ctx context.Context, jobID string, status types.JobStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO aggregates (job_id, status, finished_at) VALUES ($1, $2, NOW())
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at
		WHERE aggregates.finished_at IS NULL`,
		jobID, string(status),
	)
	if err != nil {
		return false, fmt.Errorf("failed to finish job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
