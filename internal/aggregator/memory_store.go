package aggregator

import (
	"context"
	"sort"
	"sync"

	"github.com/amrrdev/quizscan/internal/types"
)

type aggregate struct {
	totalPages *int
	fragments  map[int][]types.QuestionRecord
	dead       map[int]string

	finished bool
	status   types.JobStatus
	archived []types.QuestionRecord
	deadList []int
}

// MemoryStore keeps every aggregate in process. Only a single aggregator
// instance may use it.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*aggregate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*aggregate)}
}

func (a *aggregate) inRange(page int) bool {
	return a.totalPages == nil || page <= *a.totalPages
}

func (a *aggregate) questions() []types.QuestionRecord {
	out := []types.QuestionRecord{}
	for page, qs := range a.fragments {
		if a.inRange(page) {
			out = append(out, qs...)
		}
	}
	sortQuestions(out)
	return out
}

func (a *aggregate) deadPages() []int {
	pages := make([]int, 0, len(a.dead))
	for page := range a.dead {
		if a.inRange(page) {
			pages = append(pages, page)
		}
	}
	sort.Ints(pages)
	return pages
}

func (s *MemoryStore) get(jobID string) *aggregate {
	agg, ok := s.jobs[jobID]
	if !ok {
		agg = &aggregate{
			fragments: make(map[int][]types.QuestionRecord),
			dead:      make(map[int]string),
		}
		s.jobs[jobID] = agg
	}
	return agg
}

func (s *MemoryStore) SetTotalPages(_ context.Context, jobID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := s.get(jobID)
	if agg.totalPages == nil {
		agg.totalPages = &total
	}
	return nil
}

func (s *MemoryStore) AddFragment(_ context.Context, f types.ResultFragment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := s.get(f.JobID)
	if agg.finished {
		return false, nil
	}
	if _, ok := agg.fragments[f.PageNumber]; ok {
		return false, nil
	}
	questions := make([]types.QuestionRecord, len(f.Questions))
	copy(questions, f.Questions)
	agg.fragments[f.PageNumber] = questions
	delete(agg.dead, f.PageNumber)
	return true, nil
}

func (s *MemoryStore) MarkDeadLettered(_ context.Context, jobID string, page int, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := s.get(jobID)
	if agg.finished {
		return false, nil
	}
	if _, ok := agg.fragments[page]; ok {
		return false, nil
	}
	if _, ok := agg.dead[page]; ok {
		return false, nil
	}
	agg.dead[page] = reason
	return true, nil
}

func (s *MemoryStore) Progress(_ context.Context, jobID string) (Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.jobs[jobID]
	if !ok {
		return Progress{}, nil
	}
	p := Progress{
		DeadLettered: len(agg.deadPages()),
		Finished:     agg.finished,
		Status:       agg.status,
	}
	for page := range agg.fragments {
		if agg.inRange(page) {
			p.Received++
		}
	}
	if agg.totalPages != nil {
		total := *agg.totalPages
		p.TotalPages = &total
	}
	return p, nil
}

func (s *MemoryStore) Questions(_ context.Context, jobID string) ([]types.QuestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.jobs[jobID]
	if !ok {
		return []types.QuestionRecord{}, nil
	}
	if agg.finished {
		return append([]types.QuestionRecord{}, agg.archived...), nil
	}
	return agg.questions(), nil
}

func (s *MemoryStore) DeadLetteredPages(_ context.Context, jobID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	if agg.finished {
		return append([]int(nil), agg.deadList...), nil
	}
	return agg.deadPages(), nil
}

// Finish archives the concatenated questions and drops the per-page buffers.
func (s *MemoryStore) Finish(_ context.Context, jobID string, status types.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := s.get(jobID)
	if agg.finished {
		return false, nil
	}
	agg.finished = true
	agg.status = status
	agg.archived = agg.questions()
	agg.deadList = agg.deadPages()
	agg.fragments = nil
	agg.dead = nil
	return true, nil
}
