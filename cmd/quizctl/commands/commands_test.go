package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupStage(t *testing.T) {
	s, err := lookupStage("extract")
	require.NoError(t, err)
	assert.Equal(t, queue.ExtractStage, s)

	_, err = lookupStage("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decompose, extract, results")
}

func TestPrintDeadLetters(t *testing.T) {
	var buf bytes.Buffer
	printDeadLetters(&buf, queue.ExtractStage, nil)
	assert.Equal(t, "page-extract.dlq is empty\n", buf.String())

	buf.Reset()
	printDeadLetters(&buf, queue.ExtractStage, []queue.DeadLetter{
		{RoutingKey: queue.KeyPage, Body: []byte(`{"job_id":"j1","page_number":3}`), Deaths: 1, Reason: "rejected"},
	})
	out := buf.String()
	assert.Contains(t, out, "1 message(s) in page-extract.dlq")
	assert.Contains(t, out, "routing_key=page deaths=1 reason=rejected")
	assert.Contains(t, out, `"page_number":3`)
}

func TestPrintJob(t *testing.T) {
	total := 3
	job := &types.SubmissionJob{
		JobID:      "j1",
		UserID:     "u1",
		SourcePath: "uploads/u1/j1.pdf",
		Status:     types.JobInProgress,
		TotalPages: &total,
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	pages := []types.PageJob{
		{JobID: "j1", PageNumber: 1, Status: types.PageDone},
		{JobID: "j1", PageNumber: 2, Status: types.PageProcessing},
		{JobID: "j1", PageNumber: 3, Status: types.PageDeadLettered},
	}

	var buf bytes.Buffer
	printJob(&buf, job, pages)
	out := buf.String()
	assert.Contains(t, out, "status:  in_progress")
	assert.Contains(t, out, "pages:   3")
	assert.Contains(t, out, "updated: 2026-01-02T03:04:05Z")
	assert.Contains(t, out, "page 2    processing")
	assert.Contains(t, out, "page 3    dead_lettered")
	assert.NotContains(t, out, "page 1 ")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
