package types

import "time"

type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobDecomposing JobStatus = "decomposing"
	JobInProgress  JobStatus = "in_progress"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type PageStatus string

const (
	PageQueued       PageStatus = "queued"
	PageProcessing   PageStatus = "processing"
	PageDone         PageStatus = "done"
	PageDeadLettered PageStatus = "dead_lettered"
)

// SubmissionJob is one uploaded PDF travelling through the pipeline.
// TotalPages stays nil until the decomposer has rasterized the document.
type SubmissionJob struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	SourcePath string    `json:"source_path"`
	Status     JobStatus `json:"status"`
	TotalPages *int      `json:"total_pages,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DecomposeRequest is the body published to the pdf-decompose exchange.
type DecomposeRequest struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	SourcePath string    `json:"source_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// PageJob is one rasterized page waiting for text extraction.
type PageJob struct {
	JobID      string     `json:"job_id"`
	UserID     string     `json:"user_id,omitempty"`
	PageNumber int        `json:"page_number"`
	ImagePath  string     `json:"image_path"`
	Status     PageStatus `json:"status,omitempty"`
}

// NoCorrectOption marks a question where no option carried a correctness marker.
const NoCorrectOption = -1

type QuestionRecord struct {
	QuestionText       string   `json:"question_text"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correct_option_index"`
	SourcePage         int      `json:"source_page"`
	SourceOrdinal      int      `json:"source_ordinal"`
}

// HasCorrectOption reports whether CorrectOptionIndex points at a valid option.
func (q QuestionRecord) HasCorrectOption() bool {
	return q.CorrectOptionIndex >= 0 && q.CorrectOptionIndex < len(q.Options)
}

// ResultFragment is what an extraction worker publishes for one page.
type ResultFragment struct {
	JobID       string           `json:"job_id"`
	PageNumber  int              `json:"page_number"`
	Questions   []QuestionRecord `json:"questions"`
	CompletedAt time.Time        `json:"completed_at"`
}

// JobDecomposed tells the aggregator how many pages to wait for.
type JobDecomposed struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id,omitempty"`
	TotalPages int    `json:"total_pages"`
}

// PageDeadLetteredEvent tells the aggregator a page will never produce a fragment.
type PageDeadLetteredEvent struct {
	JobID      string `json:"job_id"`
	PageNumber int    `json:"page_number"`
	Reason     string `json:"reason"`
}
