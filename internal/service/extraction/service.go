package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/repository"
	"github.com/nkurunziza/docextract/internal/utils/validator"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/queue"
)

// ErrNotCancellable is returned by CancelJob when the job has already been
// claimed by a worker or reached a terminal state.
var ErrNotCancellable = errors.New("job is not pending")

// DefaultMaxRetries bounds how often a job returns to PENDING before it is
// failed for good.
const DefaultMaxRetries = 3

// Config tunes the trigger side of the job state machine.
type Config struct {
	MaxRetries int
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	return out
}

// Service is the trigger-side API over extraction jobs: create them, poll
// them, fetch their results, cancel them. The worker side lives in the
// dispatcher; the two meet only through the repositories and the queue.
type Service struct {
	docs      repository.DocumentsRepository
	jobs      repository.JobsRepository
	results   repository.ResultsRepository
	validator *validator.DocumentValidator
	producer  queue.Producer
	mirror    queue.StatusMirror
	cfg       Config
	logger    logger.Logger
	now       func() time.Time
}

func NewService(
	docs repository.DocumentsRepository,
	jobs repository.JobsRepository,
	results repository.ResultsRepository,
	v *validator.DocumentValidator,
	producer queue.Producer,
	mirror queue.StatusMirror,
	cfg *Config,
	log logger.Logger,
) *Service {
	if mirror == nil {
		mirror = queue.NopMirror{}
	}
	return &Service{
		docs:      docs,
		jobs:      jobs,
		results:   results,
		validator: v,
		producer:  producer,
		mirror:    mirror,
		cfg:       cfg.withDefaults(),
		logger:    log,
		now:       time.Now,
	}
}

// TriggerExtraction validates the document, creates a PENDING job unless one
// is already active for the document, and enqueues it. fresh reports whether
// the returned job was created by this call; when an active job already
// exists its id is returned unchanged and nothing is enqueued.
//
// Validation failures are synchronous and leave no job row behind. A fresh
// job whose enqueue fails is marked FAILED immediately so it cannot hang in
// PENDING with no queue entry.
func (s *Service) TriggerExtraction(ctx context.Context, documentID string) (job *models.ExtractionJob, fresh bool, err error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, false, fmt.Errorf("load document %s: %w", documentID, err)
	}
	if err := s.validator.ValidateDocument(doc); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	candidate := &models.ExtractionJob{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Status:     models.JobPending,
		MaxRetries: s.cfg.MaxRetries,
		CreatedAt:  now,
	}

	active, fresh, err := s.jobs.CreateIfNoActive(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("create extraction job: %w", err)
	}
	if !fresh {
		s.logger.Info("extraction already in flight, returning active job",
			logger.String("documentId", doc.ID),
			logger.String("jobId", active.ID),
		)
		return active, false, nil
	}

	msg := queue.Message{
		JobID:      active.ID,
		DocumentID: doc.ID,
		EnqueuedAt: now,
	}
	if err := s.producer.Enqueue(ctx, msg, 0); err != nil {
		reason := fmt.Sprintf("enqueue extraction task: %v", err)
		if ferr := s.jobs.MarkFailed(ctx, active.ID, reason, nil, s.now().UTC()); ferr != nil {
			s.logger.Error("failed to mark unenqueued job failed",
				logger.String("jobId", active.ID),
				logger.Error(ferr),
			)
		}
		return nil, false, fmt.Errorf("enqueue job %s: %w", active.ID, err)
	}

	s.logger.Info("extraction job created",
		logger.String("jobId", active.ID),
		logger.String("documentId", doc.ID),
	)
	return active, true, nil
}

// GetJob returns the full job record.
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.ExtractionJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// JobStatus serves a lightweight status view for polling. Terminal statuses
// come from the mirror when it has them, skipping the database; anything
// else falls back to the job record.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*queue.JobStatusRecord, error) {
	record, ok, err := s.mirror.GetStatus(ctx, jobID)
	if err != nil {
		s.logger.Warn("status mirror read failed",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
	}
	if ok {
		return record, nil
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &queue.JobStatusRecord{
		JobID:            job.ID,
		Status:           string(job.Status),
		ExtractionMethod: job.ExtractionMethod,
		ErrorMessage:     job.ErrorMessage,
		UpdatedAt:        job.CreatedAt,
	}, nil
}

// GetResult returns the extracted data for a completed job.
// repository.ErrNotFound covers both unknown jobs and jobs that have not
// completed.
func (s *Service) GetResult(ctx context.Context, jobID string) (*models.ExtractedData, error) {
	return s.results.GetByJobID(ctx, jobID)
}

// GetLatestResult returns the most recent extraction result for a document.
func (s *Service) GetLatestResult(ctx context.Context, documentID string) (*models.ExtractedData, error) {
	return s.results.GetLatestByDocument(ctx, documentID)
}

// ListJobs returns every job for a document, newest first.
func (s *Service) ListJobs(ctx context.Context, documentID string) ([]*models.ExtractionJob, error) {
	return s.jobs.ListByDocument(ctx, documentID)
}

// CancelJob cancels a PENDING job. Jobs already claimed by a worker keep
// running: there is no mid-flight cancellation, only the PENDING to CANCELLED
// edge. ErrNotCancellable reports a job in any other state.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	cancelled, err := s.jobs.CancelPending(ctx, jobID, s.now().UTC())
	if err != nil {
		return err
	}
	if !cancelled {
		return ErrNotCancellable
	}

	record := queue.JobStatusRecord{
		JobID:     jobID,
		Status:    string(models.JobCancelled),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.mirror.SaveStatus(ctx, record); err != nil {
		s.logger.Warn("status mirror update failed",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
	}
	s.logger.Info("extraction job cancelled", logger.String("jobId", jobID))
	return nil
}
