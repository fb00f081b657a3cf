package models

import (
	"time"
)

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Active reports whether the job counts against the one-active-job-per-document
// invariant.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing
}

// Names of the extraction strategies, persisted as ExtractionMethod on
// completed jobs.
const (
	MethodVision     = "vision"
	MethodLocalModel = "local_model"
	MethodHeuristic  = "heuristic"
)

// DiagnosticClass classifies why a strategy attempt did not win.
type DiagnosticClass string

const (
	DiagTransient     DiagnosticClass = "transient"
	DiagPermanent     DiagnosticClass = "permanent"
	DiagLowConfidence DiagnosticClass = "low_confidence"
)

// Diagnostic is one entry of the per-strategy failure trail accumulated while
// walking the extraction chain. Order is attempt order.
type Diagnostic struct {
	Strategy   string          `json:"strategy"`
	Class      DiagnosticClass `json:"class"`
	Message    string          `json:"message"`
	Confidence float64         `json:"confidence,omitempty"`
	At         time.Time       `json:"at"`
}

// ExtractionJob tracks one extraction attempt for a document.
//
// At most one job per document may be in an active status at any time;
// repositories enforce that with an atomic check-and-create. Terminal
// statuses are never reverted.
type ExtractionJob struct {
	ID                    string       `json:"id"`
	DocumentID            string       `json:"document_id"`
	Status                JobStatus    `json:"status"`
	RetryCount            int          `json:"retry_count"`
	MaxRetries            int          `json:"max_retries"`
	ExtractionMethod      string       `json:"extraction_method,omitempty"`
	ErrorMessage          string       `json:"error_message,omitempty"`
	Diagnostics           []Diagnostic `json:"diagnostics,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	ProcessingTimeSeconds float64      `json:"processing_time_seconds,omitempty"`
}
