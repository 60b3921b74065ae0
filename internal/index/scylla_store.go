package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amrrdev/quizscan/internal/scylladb"
	"github.com/gocql/gocql"
)

const statsRow = "questions"

type ScyllaStore struct {
	db *scylladb.ScyllaDB
}

func NewScyllaStore(db *scylladb.ScyllaDB) *ScyllaStore {
	return &ScyllaStore{db: db}
}

func (s *ScyllaStore) Put(ctx context.Context, docs []Document) error {
	session := s.db.Session
	for _, doc := range docs {
		id, err := gocql.ParseUUID(doc.QuestionID)
		if err != nil {
			return fmt.Errorf("invalid question id %q: %w", doc.QuestionID, err)
		}

		var existing gocql.UUID
		err = session.Query(`SELECT question_id FROM questions WHERE question_id = ?`, id).
			WithContext(ctx).Scan(&existing)
		if err == nil {
			continue
		}
		if !errors.Is(err, gocql.ErrNotFound) {
			return err
		}

		batch := session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		for word, positions := range doc.Terms {
			batch.Query(`INSERT INTO question_index (word, question_id, user_id, term_frequency, doc_length, positions) VALUES (?, ?, ?, ?, ?, ?)`,
				word, id, doc.UserID, len(positions), doc.Length, positions)
		}
		batch.Query(`INSERT INTO questions (question_id, job_id, user_id, page_number, ordinal, text, options, correct_index, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, doc.JobID, doc.UserID, doc.PageNumber, doc.Ordinal, doc.Text, doc.Options, doc.CorrectIndex, time.Now().UTC())
		if err := session.ExecuteBatch(batch); err != nil {
			return fmt.Errorf("failed to write question %s: %w", doc.QuestionID, err)
		}

		if err := session.Query(`UPDATE corpus_stats SET question_count = question_count + 1, token_count = token_count + ? WHERE id = ?`,
			int64(doc.Length), statsRow).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to update corpus stats: %w", err)
		}
	}
	return nil
}

func (s *ScyllaStore) Postings(ctx context.Context, term string) ([]Posting, error) {
	iter := s.db.Session.Query(`SELECT question_id, user_id, term_frequency, doc_length, positions FROM question_index WHERE word = ?`, term).
		WithContext(ctx).Iter()

	var (
		out       []Posting
		id        gocql.UUID
		userID    string
		tf        int
		docLen    int
		positions []int
	)
	for iter.Scan(&id, &userID, &tf, &docLen, &positions) {
		out = append(out, Posting{
			QuestionID: id.String(),
			UserID:     userID,
			TF:         tf,
			DocLength:  docLen,
			Positions:  append([]int(nil), positions...),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ScyllaStore) Stats(ctx context.Context) (CorpusStats, error) {
	var stats CorpusStats
	err := s.db.Session.Query(`SELECT question_count, token_count FROM corpus_stats WHERE id = ?`, statsRow).
		WithContext(ctx).Scan(&stats.Questions, &stats.Tokens)
	if errors.Is(err, gocql.ErrNotFound) {
		return CorpusStats{}, nil
	}
	return stats, err
}

func (s *ScyllaStore) Questions(ctx context.Context, ids []string) (map[string]Document, error) {
	out := make(map[string]Document, len(ids))
	for _, raw := range ids {
		id, err := gocql.ParseUUID(raw)
		if err != nil {
			continue
		}
		doc := Document{QuestionID: raw}
		err = s.db.Session.Query(`SELECT job_id, user_id, page_number, ordinal, text, options, correct_index FROM questions WHERE question_id = ?`, id).
			WithContext(ctx).
			Scan(&doc.JobID, &doc.UserID, &doc.PageNumber, &doc.Ordinal, &doc.Text, &doc.Options, &doc.CorrectIndex)
		if errors.Is(err, gocql.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[raw] = doc
	}
	return out, nil
}
