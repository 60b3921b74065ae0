package index

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-binary runs.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	postings map[string]map[string]Posting
	stats    CorpusStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]Document),
		postings: make(map[string]map[string]Posting),
	}
}

func (m *MemoryStore) Put(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		if _, ok := m.docs[doc.QuestionID]; ok {
			continue
		}
		m.docs[doc.QuestionID] = doc
		for word, positions := range doc.Terms {
			if m.postings[word] == nil {
				m.postings[word] = make(map[string]Posting)
			}
			m.postings[word][doc.QuestionID] = Posting{
				QuestionID: doc.QuestionID,
				UserID:     doc.UserID,
				TF:         len(positions),
				DocLength:  doc.Length,
				Positions:  append([]int(nil), positions...),
			}
		}
		m.stats.Questions++
		m.stats.Tokens += int64(doc.Length)
	}
	return nil
}

func (m *MemoryStore) Postings(_ context.Context, term string) ([]Posting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Posting, 0, len(m.postings[term]))
	for _, p := range m.postings[term] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *MemoryStore) Stats(context.Context) (CorpusStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats, nil
}

func (m *MemoryStore) Questions(_ context.Context, ids []string) (map[string]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Document, len(ids))
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}
