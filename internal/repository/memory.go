package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/amrrdev/quizscan/internal/types"
)

type pageKey struct {
	jobID string
	page  int
}

// MemoryJobRepository keeps job and page state in process.
type MemoryJobRepository struct {
	mu    sync.RWMutex
	jobs  map[string]types.SubmissionJob
	pages map[pageKey]types.PageJob
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs:  make(map[string]types.SubmissionJob),
		pages: make(map[pageKey]types.PageJob),
	}
}

func (r *MemoryJobRepository) Create(_ context.Context, job *types.SubmissionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.JobID]; ok {
		return ErrJobExists
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = types.JobQueued
	}
	r.jobs[job.JobID] = *job
	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, jobID string) (*types.SubmissionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.TotalPages != nil {
		total := *job.TotalPages
		job.TotalPages = &total
	}
	return &job, nil
}

func (r *MemoryJobRepository) Transition(_ context.Context, jobID string, from []types.JobStatus, to types.JobStatus, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || !slices.Contains(from, job.Status) {
		return false, nil
	}
	job.Status = to
	job.Error = reason
	job.UpdatedAt = time.Now().UTC()
	r.jobs[jobID] = job
	return true, nil
}

func (r *MemoryJobRepository) SetTotalPages(_ context.Context, jobID string, total int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.TotalPages != nil {
		return false, nil
	}
	job.TotalPages = &total
	job.UpdatedAt = time.Now().UTC()
	r.jobs[jobID] = job
	return true, nil
}

func (r *MemoryJobRepository) AddPages(_ context.Context, pages []types.PageJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pages {
		key := pageKey{p.JobID, p.PageNumber}
		if _, ok := r.pages[key]; ok {
			continue
		}
		p.Status = types.PageQueued
		r.pages[key] = p
	}
	return nil
}

func (r *MemoryJobRepository) Page(_ context.Context, jobID string, page int) (*types.PageJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[pageKey{jobID, page}]
	if !ok {
		return nil, ErrPageNotFound
	}
	return &p, nil
}

func (r *MemoryJobRepository) Pages(_ context.Context, jobID string) ([]types.PageJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pages []types.PageJob
	for k, p := range r.pages {
		if k.jobID == jobID {
			pages = append(pages, p)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}

func (r *MemoryJobRepository) SetPageStatus(_ context.Context, jobID string, page int, status types.PageStatus, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pageKey{jobID, page}
	p, ok := r.pages[key]
	if !ok {
		return false, ErrPageNotFound
	}
	if p.Status == types.PageDone {
		return false, nil
	}
	p.Status = status
	r.pages[key] = p
	return true, nil
}
