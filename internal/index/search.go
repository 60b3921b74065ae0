package index

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/amrrdev/quizscan/internal/tokenizer"
)

type Result struct {
	QuestionID         string   `json:"question_id"`
	JobID              string   `json:"job_id"`
	PageNumber         int      `json:"page_number"`
	Ordinal            int      `json:"ordinal"`
	QuestionText       string   `json:"question_text"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correct_option_index"`
	Score              float64  `json:"score"`
}

type scored struct {
	QuestionID string
	Score      float64
}

type Searcher struct {
	store     Store
	tokenizer *tokenizer.Tokenizer
	K1        float64
	B         float64
	Timeout   time.Duration
}

func NewSearcher(store Store, tok *tokenizer.Tokenizer) *Searcher {
	return &Searcher{
		store:     store,
		tokenizer: tok,
		K1:        1.2,
		B:         0.75,
		Timeout:   2 * time.Second,
	}
}

// Search ranks the caller's own questions against query and returns at most topK.
func (s *Searcher) Search(ctx context.Context, userID, query string, topK int) ([]Result, error) {
	terms := s.tokenizer.Terms(query)
	if len(terms) == 0 || topK <= 0 {
		return []Result{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus stats: %w", err)
	}

	type termResult struct {
		postings []Posting
		err      error
	}
	resultsCh := make(chan termResult, len(terms))
	var wg sync.WaitGroup
	for _, term := range terms {
		wg.Add(1)
		go func(term string) {
			defer wg.Done()
			postings, err := s.store.Postings(ctx, term)
			resultsCh <- termResult{postings: postings, err: err}
		}(term)
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	avgLen := stats.AvgLength()
	scores := make(map[string]float64)
	for r := range resultsCh {
		if r.err != nil {
			return nil, fmt.Errorf("postings fetch error: %w", r.err)
		}
		// document frequency counts every owner so scores do not depend on who asks
		docFreq := len(r.postings)
		for _, p := range r.postings {
			if p.UserID != userID {
				continue
			}
			scores[p.QuestionID] += bm25Score(p.TF, p.DocLength, avgLen, docFreq, int(stats.Questions), s.K1, s.B)
		}
	}

	top := topScores(scores, topK)
	if len(top) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(top))
	for i, c := range top {
		ids[i] = c.QuestionID
	}
	docs, err := s.store.Questions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}

	results := make([]Result, 0, len(top))
	for _, c := range top {
		doc, ok := docs[c.QuestionID]
		if !ok {
			continue
		}
		results = append(results, Result{
			QuestionID:         doc.QuestionID,
			JobID:              doc.JobID,
			PageNumber:         doc.PageNumber,
			Ordinal:            doc.Ordinal,
			QuestionText:       doc.Text,
			Options:            doc.Options,
			CorrectOptionIndex: doc.CorrectIndex,
			Score:              c.Score,
		})
	}
	return results, nil
}

// topScores keeps the k best candidates, highest first. Ties break on id.
func topScores(scores map[string]float64, k int) []scored {
	h := &minHeap{}
	heap.Init(h)
	for id, score := range scores {
		d := scored{QuestionID: id, Score: score}
		if h.Len() < k {
			heap.Push(h, d)
			continue
		}
		if h.less(d, (*h)[0]) {
			continue
		}
		heap.Pop(h)
		heap.Push(h, d)
	}
	n := h.Len()
	out := make([]scored, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scored)
	}
	return out
}

func bm25Score(tf int, docLen int, avgDocLen float64, docFreq int, totalDocs int, k1, b float64) float64 {
	if tf == 0 || docFreq == 0 {
		return 0
	}
	if totalDocs < docFreq {
		totalDocs = docFreq
	}
	if avgDocLen <= 0 {
		avgDocLen = float64(docLen)
	}
	norm := 1.0
	if avgDocLen > 0 {
		norm = 1 - b + b*(float64(docLen)/avgDocLen)
	}
	idf := math.Log((float64(totalDocs)-float64(docFreq)+0.5)/(float64(docFreq)+0.5) + 1)
	tfNorm := float64(tf) * (k1 + 1) / (float64(tf) + k1*norm)
	return idf * tfNorm
}

type minHeap []scored

func (h minHeap) less(a, b scored) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.QuestionID > b.QuestionID
}

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h.less(h[i], h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any) {
	*h = append(*h, x.(scored))
}
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
