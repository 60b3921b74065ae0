package aggregator

import (
	"context"
	"testing"

	"github.com/amrrdev/quizscan/internal/testutil"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the same contract against every Store.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	p, err := store.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, p.TotalPages)
	assert.Equal(t, 0, p.Accounted())

	added, err := store.AddFragment(ctx, fragment(2, "p2q1", "p2q2"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.AddFragment(ctx, fragment(2, "p2q1", "p2q2"))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = store.AddFragment(ctx, fragment(1))
	require.NoError(t, err)
	assert.True(t, added)

	marked, err := store.MarkDeadLettered(ctx, "job-1", 3, "oracle rejected page")
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = store.MarkDeadLettered(ctx, "job-1", 1, "late")
	require.NoError(t, err)
	assert.False(t, marked, "page with a fragment cannot be dead-lettered")

	// buffered before the total is known, outside 1..total afterwards
	added, err = store.AddFragment(ctx, fragment(7, "stray"))
	require.NoError(t, err)
	assert.True(t, added)
	marked, err = store.MarkDeadLettered(ctx, "job-1", 8, "stray")
	require.NoError(t, err)
	assert.True(t, marked)

	require.NoError(t, store.SetTotalPages(ctx, "job-1", 3))
	require.NoError(t, store.SetTotalPages(ctx, "job-1", 9))

	p, err = store.Progress(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, p.TotalPages)
	assert.Equal(t, 3, *p.TotalPages)
	assert.Equal(t, 2, p.Received)
	assert.Equal(t, 1, p.DeadLettered)
	assert.False(t, p.Finished)

	qs, err := store.Questions(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2q1", "p2q2"}, texts(qs))

	dead, err := store.DeadLetteredPages(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, dead)

	won, err := store.Finish(ctx, "job-1", types.JobCompleted)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = store.Finish(ctx, "job-1", types.JobFailed)
	require.NoError(t, err)
	assert.False(t, won)

	p, err = store.Progress(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, p.Finished)
	assert.Equal(t, types.JobCompleted, p.Status)

	added, err = store.AddFragment(ctx, fragment(3, "late"))
	require.NoError(t, err)
	assert.False(t, added, "finished jobs take no more fragments")

	qs, err = store.Questions(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2q1", "p2q2"}, texts(qs))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	pool := testutil.Postgres(t)
	exerciseStore(t, NewPostgresStore(pool))
}
