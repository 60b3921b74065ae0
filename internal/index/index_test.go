package index

import (
	"context"
	"testing"

	"github.com/amrrdev/quizscan/internal/aggregator"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/tokenizer"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func question(page, ordinal int, text string, options ...string) types.QuestionRecord {
	return types.QuestionRecord{
		QuestionText:       text,
		Options:            options,
		CorrectOptionIndex: types.NoCorrectOption,
		SourcePage:         page,
		SourceOrdinal:      ordinal,
	}
}

type fixture struct {
	store    *MemoryStore
	indexer  *Indexer
	searcher *Searcher
	jobs     *repository.MemoryJobRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tok := tokenizer.NewTokenizer()
	store := NewMemoryStore()
	jobs := repository.NewMemoryJobRepository()
	return &fixture{
		store:    store,
		indexer:  NewIndexer(store, jobs, tok, zerolog.Nop()),
		searcher: NewSearcher(store, tok),
		jobs:     jobs,
	}
}

func (f *fixture) finish(t *testing.T, jobID, userID string, status types.JobStatus, qs ...types.QuestionRecord) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.jobs.Create(ctx, &types.SubmissionJob{JobID: jobID, UserID: userID, SourcePath: jobID + ".pdf"}))
	require.NoError(t, f.indexer.JobFinished(ctx, aggregator.Outcome{JobID: jobID, Status: status, TotalPages: 1, Questions: qs}))
}

func TestQuestionID_Stable(t *testing.T) {
	assert.Equal(t, QuestionID("j1", 1, 2), QuestionID("j1", 1, 2))
	assert.NotEqual(t, QuestionID("j1", 1, 2), QuestionID("j1", 2, 1))
}

func TestIndexer_IndexesCompletedJobs(t *testing.T) {
	f := newFixture(t)
	f.finish(t, "j1", "u1", types.JobCompleted,
		question(1, 1, "What is the capital of France?", "Paris", "Rome"),
		question(1, 2, "Which gas do plants absorb?", "Oxygen", "Carbon dioxide"),
	)

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Questions)

	postings, err := f.store.Postings(context.Background(), "rome")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, QuestionID("j1", 1, 1), postings[0].QuestionID)
	assert.Equal(t, "u1", postings[0].UserID)
}

func TestIndexer_SkipsFailedJobsAndReindexing(t *testing.T) {
	f := newFixture(t)
	f.finish(t, "failed", "u1", types.JobFailed, question(1, 1, "Photosynthesis occurs where?"))

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Questions)

	f.finish(t, "j1", "u1", types.JobCompleted, question(1, 1, "Photosynthesis occurs where?"))
	require.NoError(t, f.indexer.JobFinished(context.Background(), aggregator.Outcome{
		JobID: "j1", Status: types.JobCompleted, Questions: []types.QuestionRecord{question(1, 1, "Photosynthesis occurs where?")},
	}))

	stats, err = f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Questions)
}

func TestIndexer_UnknownJob(t *testing.T) {
	f := newFixture(t)
	err := f.indexer.JobFinished(context.Background(), aggregator.Outcome{
		JobID: "ghost", Status: types.JobCompleted, Questions: []types.QuestionRecord{question(1, 1, "x y z")},
	})
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestSearcher_RanksAndScopesByUser(t *testing.T) {
	f := newFixture(t)
	f.finish(t, "j1", "u1", types.JobCompleted,
		question(1, 1, "Mitochondria produce energy for the cell", "ATP", "DNA"),
		question(1, 2, "Which planet is largest?", "Jupiter", "Mars"),
		question(2, 1, "Cell membrane cell wall and cell nucleus differ how?"),
	)
	f.finish(t, "j2", "u2", types.JobCompleted,
		question(1, 1, "Cell division in bacteria"),
	)

	results, err := f.searcher.Search(context.Background(), "u1", "cells", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "j1", results[0].JobID)
	assert.Equal(t, 2, results[0].PageNumber, "higher term frequency ranks first")
	assert.Equal(t, 1, results[1].PageNumber)
	assert.Greater(t, results[0].Score, results[1].Score)
	for _, r := range results {
		assert.Equal(t, "j1", r.JobID)
	}

	results, err = f.searcher.Search(context.Background(), "u2", "cell", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "j2", results[0].JobID)
	assert.Equal(t, "Cell division in bacteria", results[0].QuestionText)
}

func TestSearcher_OptionsAreSearchable(t *testing.T) {
	f := newFixture(t)
	f.finish(t, "j1", "u1", types.JobCompleted,
		question(1, 1, "Which planet is largest?", "Jupiter", "Mars"),
	)

	results, err := f.searcher.Search(context.Background(), "u1", "jupiter", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"Jupiter", "Mars"}, results[0].Options)
}

func TestSearcher_EmptyAndLimit(t *testing.T) {
	f := newFixture(t)
	f.finish(t, "j1", "u1", types.JobCompleted,
		question(1, 1, "alpha beta"),
		question(1, 2, "alpha gamma"),
		question(1, 3, "alpha delta"),
	)

	results, err := f.searcher.Search(context.Background(), "u1", "the of", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.searcher.Search(context.Background(), "u1", "alpha", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestBM25Score(t *testing.T) {
	assert.Zero(t, bm25Score(0, 10, 10, 1, 10, 1.2, 0.75))
	assert.Zero(t, bm25Score(1, 10, 10, 0, 10, 1.2, 0.75))

	rare := bm25Score(1, 10, 10, 1, 100, 1.2, 0.75)
	common := bm25Score(1, 10, 10, 50, 100, 1.2, 0.75)
	assert.Greater(t, rare, common)

	short := bm25Score(1, 5, 10, 1, 100, 1.2, 0.75)
	long := bm25Score(1, 20, 10, 1, 100, 1.2, 0.75)
	assert.Greater(t, short, long)

	assert.Greater(t, bm25Score(1, 5, 0, 1, 1, 1.2, 0.75), 0.0)
}

func TestTopScores(t *testing.T) {
	got := topScores(map[string]float64{"a": 1, "b": 3, "c": 2, "d": 3}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].QuestionID)
	assert.Equal(t, "d", got[1].QuestionID)
	assert.Equal(t, "c", got[2].QuestionID)
}
