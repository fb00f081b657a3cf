package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nkurunziza/docextract/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a guarded status update found the
	// job in a state the transition is not allowed from.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// DocumentsRepository stores uploaded document records. Documents are
// immutable after creation.
type DocumentsRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// JobsRepository owns the extraction job state machine rows. Every mutation
// is a guarded transition: the WHERE clause (or its in-memory equivalent)
// checks the current status so that terminal states are never reverted and
// redelivered queue messages turn into no-ops.
type JobsRepository interface {
	// CreateIfNoActive atomically creates the job unless another job for the
	// same document is PENDING or PROCESSING. It returns the job that is now
	// active for the document and whether it was freshly created. The check
	// and the insert are one atomic step, never a read-then-write.
	CreateIfNoActive(ctx context.Context, job *models.ExtractionJob) (*models.ExtractionJob, bool, error)

	GetJob(ctx context.Context, id string) (*models.ExtractionJob, error)
	ListByDocument(ctx context.Context, documentID string) ([]*models.ExtractionJob, error)

	// ClaimPending transitions PENDING -> PROCESSING and stamps StartedAt.
	// claimed is false when the job exists but is not PENDING.
	ClaimPending(ctx context.Context, id string, at time.Time) (job *models.ExtractionJob, claimed bool, err error)

	// RequeueForRetry transitions PROCESSING -> PENDING, increments
	// RetryCount and replaces the diagnostics trail.
	RequeueForRetry(ctx context.Context, id string, diags []models.Diagnostic) (*models.ExtractionJob, error)

	// MarkFailed transitions an active job to FAILED. Calling it on an
	// already-terminal job is a no-op.
	MarkFailed(ctx context.Context, id string, message string, diags []models.Diagnostic, at time.Time) error

	// CancelPending transitions PENDING -> CANCELLED. cancelled is false when
	// the job was already claimed or terminal.
	CancelPending(ctx context.Context, id string, at time.Time) (cancelled bool, err error)

	// StaleProcessing lists PROCESSING jobs claimed before the cutoff, for
	// the staleness watchdog.
	StaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.ExtractionJob, error)
}

// ResultsRepository persists extraction results. CommitCompleted is the only
// writer and couples the data insert with the job's COMPLETED transition in
// one atomic step.
type ResultsRepository interface {
	// CommitCompleted inserts the extracted data and transitions its job
	// PROCESSING -> COMPLETED (method, diagnostics, timestamps) atomically.
	CommitCompleted(ctx context.Context, data *models.ExtractedData, diags []models.Diagnostic, at time.Time) error

	GetByJobID(ctx context.Context, jobID string) (*models.ExtractedData, error)
	GetLatestByDocument(ctx context.Context, documentID string) (*models.ExtractedData, error)
}
