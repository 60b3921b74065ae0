// Package index keeps an inverted index of the questions of completed jobs and
// ranks them with BM25.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/amrrdev/quizscan/internal/aggregator"
	"github.com/amrrdev/quizscan/internal/tokenizer"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Document is one indexed question.
type Document struct {
	QuestionID   string
	JobID        string
	UserID       string
	PageNumber   int
	Ordinal      int
	Text         string
	Options      []string
	CorrectIndex int
	// Terms maps each term to its token positions.
	Terms  map[string][]int
	Length int
}

type Posting struct {
	QuestionID string
	UserID     string
	TF         int
	DocLength  int
	Positions  []int
}

type CorpusStats struct {
	Questions int64
	Tokens    int64
}

func (s CorpusStats) AvgLength() float64 {
	if s.Questions == 0 {
		return 0
	}
	return float64(s.Tokens) / float64(s.Questions)
}

// Store persists documents and postings. Put must skip documents whose
// QuestionID is already indexed.
type Store interface {
	Put(ctx context.Context, docs []Document) error
	Postings(ctx context.Context, term string) ([]Posting, error)
	Stats(ctx context.Context) (CorpusStats, error)
	Questions(ctx context.Context, ids []string) (map[string]Document, error)
}

type JobLookup interface {
	Get(ctx context.Context, jobID string) (*types.SubmissionJob, error)
}

// QuestionID is stable for a (job, page, ordinal) so reindexing a job is a no-op.
func QuestionID(jobID string, page, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("quizscan:%s:%d:%d", jobID, page, ordinal))).String()
}

// Indexer is an aggregator sink that indexes the questions of completed jobs.
type Indexer struct {
	store     Store
	jobs      JobLookup
	tokenizer *tokenizer.Tokenizer
	logger    zerolog.Logger
}

func NewIndexer(store Store, jobs JobLookup, tok *tokenizer.Tokenizer, logger zerolog.Logger) *Indexer {
	return &Indexer{store: store, jobs: jobs, tokenizer: tok, logger: logger}
}

func (ix *Indexer) JobFinished(ctx context.Context, outcome aggregator.Outcome) error {
	if outcome.Status != types.JobCompleted || len(outcome.Questions) == 0 {
		return nil
	}

	job, err := ix.jobs.Get(ctx, outcome.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", outcome.JobID, err)
	}

	docs := make([]Document, 0, len(outcome.Questions))
	for _, q := range outcome.Questions {
		docs = append(docs, ix.document(job.UserID, outcome.JobID, q))
	}

	if err := ix.store.Put(ctx, docs); err != nil {
		return fmt.Errorf("failed to index job %s: %w", outcome.JobID, err)
	}

	ix.logger.Info().Str("job_id", outcome.JobID).Int("questions", len(docs)).Msg("📚 Indexed questions")
	return nil
}

func (ix *Indexer) document(userID, jobID string, q types.QuestionRecord) Document {
	doc := Document{
		QuestionID:   QuestionID(jobID, q.SourcePage, q.SourceOrdinal),
		JobID:        jobID,
		UserID:       userID,
		PageNumber:   q.SourcePage,
		Ordinal:      q.SourceOrdinal,
		Text:         q.QuestionText,
		Options:      q.Options,
		CorrectIndex: q.CorrectOptionIndex,
		Terms:        make(map[string][]int),
	}

	text := q.QuestionText
	if len(q.Options) > 0 {
		text += " " + strings.Join(q.Options, " ")
	}
	tokens := ix.tokenizer.Tokenize(text)
	for _, tok := range tokens {
		doc.Terms[tok.Word] = append(doc.Terms[tok.Word], tok.Position)
	}
	doc.Length = len(tokens)
	return doc
}
