package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkurunziza/docextract/internal/extraction"
	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/internal/repository"
	"github.com/nkurunziza/docextract/internal/textacquire"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/queue"
	"github.com/nkurunziza/docextract/pkg/storage"
)

// TextAcquirer is the slice of the acquirer the dispatcher needs.
type TextAcquirer interface {
	Acquire(ctx context.Context, blob []byte, mimeType string) (*textacquire.AcquiredText, error)
}

// Config tunes the retry policy.
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BackoffBase <= 0 {
		out.BackoffBase = DefaultBackoffBase
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = DefaultBackoffMax
	}
	return out
}

// Dispatcher executes the worker side of the job state machine: claim,
// acquire, run the chain, commit or decide retry-vs-fail. All of its job
// mutations are guarded transitions, so reprocessing a delivered message for
// an already-terminal job is a no-op.
type Dispatcher struct {
	docs     repository.DocumentsRepository
	jobs     repository.JobsRepository
	results  repository.ResultsRepository
	blobs    storage.Storage
	acquirer TextAcquirer
	renderer textacquire.PageRenderer
	chain    *extraction.Chain
	producer queue.Producer
	mirror   queue.StatusMirror
	cfg      Config
	logger   logger.Logger
	now      func() time.Time
}

func New(
	docs repository.DocumentsRepository,
	jobs repository.JobsRepository,
	results repository.ResultsRepository,
	blobs storage.Storage,
	acquirer TextAcquirer,
	renderer textacquire.PageRenderer,
	chain *extraction.Chain,
	producer queue.Producer,
	mirror queue.StatusMirror,
	cfg Config,
	log logger.Logger,
) *Dispatcher {
	if mirror == nil {
		mirror = queue.NopMirror{}
	}
	return &Dispatcher{
		docs:     docs,
		jobs:     jobs,
		results:  results,
		blobs:    blobs,
		acquirer: acquirer,
		renderer: renderer,
		chain:    chain,
		producer: producer,
		mirror:   mirror,
		cfg:      cfg.withDefaults(),
		logger:   log,
		now:      time.Now,
	}
}

// Process handles one delivered queue message end to end. It returns a
// non-nil error only when redelivery could help (infrastructure hiccups
// before any state was decided); every extraction failure is converted into
// job state instead.
func (d *Dispatcher) Process(ctx context.Context, msg queue.Message) error {
	job, claimed, err := d.jobs.ClaimPending(ctx, msg.JobID, d.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		d.logger.Warn("dropping message for unknown job", logger.String("jobId", msg.JobID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", msg.JobID, err)
	}
	if !claimed {
		// At-least-once queue: the job was already claimed, finished or
		// cancelled. Ack and move on.
		d.logger.Info("job not claimable, skipping redelivery",
			logger.String("jobId", job.ID),
			logger.String("status", string(job.Status)),
		)
		return nil
	}

	d.logger.Info("processing extraction job",
		logger.String("jobId", job.ID),
		logger.String("documentId", job.DocumentID),
		logger.Int("attempt", job.RetryCount),
	)

	doc, err := d.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return d.failJob(ctx, job, nil, fmt.Sprintf("document record unavailable: %v", err))
	}

	blob, err := storage.ReadAll(ctx, d.blobs, doc.StorageKey)
	if err != nil {
		// Blob stores are remote; give the read another chance.
		return d.retryOrFail(ctx, job, nil, fmt.Sprintf("read document blob: %v", err))
	}

	acquired, err := d.acquirer.Acquire(ctx, blob, doc.MIMEType)
	if err != nil {
		var ae *textacquire.AcquisitionError
		if errors.As(err, &ae) {
			return d.failJob(ctx, job, nil, err.Error())
		}
		if provider.IsTransient(err) {
			return d.retryOrFail(ctx, job, nil, err.Error())
		}
		return d.failJob(ctx, job, nil, fmt.Sprintf("text acquisition: %v", err))
	}

	input := &extraction.Input{
		DocumentID:  doc.ID,
		MIMEType:    doc.MIMEType,
		Blob:        blob,
		Text:        acquired.Text,
		Pages:       acquired.Pages,
		RenderPages: d.pageImages(doc, blob, acquired.PageCount),
	}

	outcome, diags, err := d.chain.Run(ctx, input)
	if err != nil {
		var ee *extraction.ExhaustedError
		if errors.As(err, &ee) && ee.HasTransient() {
			return d.retryOrFail(ctx, job, diags, err.Error())
		}
		return d.failJob(ctx, job, diags, err.Error())
	}

	data := &models.ExtractedData{
		ID:                uuid.NewString(),
		JobID:             job.ID,
		DocumentID:        doc.ID,
		Fields:            outcome.Fields,
		FieldConfidence:   outcome.FieldConfidence,
		OverallConfidence: outcome.OverallConfidence,
		ExtractionMethod:  outcome.Method,
		CreatedAt:         d.now().UTC(),
	}
	if err := d.results.CommitCompleted(ctx, data, diags, d.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// Lost the race against the watchdog or a cancel; the job already
			// reached another state.
			d.logger.Warn("completion lost transition race", logger.String("jobId", job.ID))
			return nil
		}
		return fmt.Errorf("commit completed job %s: %w", job.ID, err)
	}

	d.mirrorStatus(ctx, job.ID, models.JobCompleted, outcome.Method, "")
	d.logger.Info("extraction job completed",
		logger.String("jobId", job.ID),
		logger.String("method", outcome.Method),
		logger.Float64("confidence", outcome.OverallConfidence),
	)
	return nil
}

// pageImages builds the lazy page renderer the vision strategy consumes.
// Image documents hand over the original blob; PDF pages are rasterized on
// demand.
func (d *Dispatcher) pageImages(doc *models.Document, blob []byte, pageCount int) func(ctx context.Context, max int) ([][]byte, error) {
	return func(ctx context.Context, max int) ([][]byte, error) {
		if !doc.Format.IsPDF() {
			return [][]byte{blob}, nil
		}
		if d.renderer == nil {
			return nil, &extraction.InputError{Message: "no pdf renderer available"}
		}
		n := pageCount
		if n > max {
			n = max
		}
		images := make([][]byte, 0, n)
		for page := 1; page <= n; page++ {
			img, err := d.renderer.Render(ctx, blob, page, textacquire.VisionRasterDPI)
			if err != nil {
				return nil, fmt.Errorf("render page %d: %w", page, err)
			}
			images = append(images, img)
		}
		return images, nil
	}
}

// retryOrFail applies the retry policy to a transient failure: back to
// PENDING with a backoff delay while retries remain, FAILED once exhausted.
func (d *Dispatcher) retryOrFail(ctx context.Context, job *models.ExtractionJob, diags []models.Diagnostic, reason string) error {
	if job.RetryCount >= job.MaxRetries {
		return d.failJob(ctx, job, diags, fmt.Sprintf("retries exhausted (%d/%d): %s", job.RetryCount, job.MaxRetries, reason))
	}

	updated, err := d.jobs.RequeueForRetry(ctx, job.ID, diags)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}

	delay := backoffDelay(updated.RetryCount, d.cfg.BackoffBase, d.cfg.BackoffMax)
	msg := queue.Message{
		JobID:      updated.ID,
		DocumentID: updated.DocumentID,
		Attempt:    updated.RetryCount,
		EnqueuedAt: d.now().UTC(),
	}
	if err := d.producer.Enqueue(ctx, msg, delay); err != nil {
		// Without a queue entry the PENDING job would hang forever; fail it
		// so the caller sees a terminal state.
		return d.failJob(ctx, updated, diags, fmt.Sprintf("re-enqueue after transient failure: %v", err))
	}

	d.logger.Warn("extraction job scheduled for retry",
		logger.String("jobId", job.ID),
		logger.Int("retryCount", updated.RetryCount),
		logger.Int("maxRetries", updated.MaxRetries),
		logger.Duration("delay", delay),
		logger.String("reason", reason),
	)
	return nil
}

func (d *Dispatcher) failJob(ctx context.Context, job *models.ExtractionJob, diags []models.Diagnostic, message string) error {
	if err := d.jobs.MarkFailed(ctx, job.ID, message, diags, d.now().UTC()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	d.mirrorStatus(ctx, job.ID, models.JobFailed, "", message)
	d.logger.Error("extraction job failed",
		logger.String("jobId", job.ID),
		logger.String("documentId", job.DocumentID),
		logger.String("reason", message),
	)
	return nil
}

// mirrorStatus pushes a terminal status into the fast-poll mirror. Best
// effort: the repository stays the source of truth.
func (d *Dispatcher) mirrorStatus(ctx context.Context, jobID string, status models.JobStatus, method, errMsg string) {
	record := queue.JobStatusRecord{
		JobID:            jobID,
		Status:           string(status),
		ExtractionMethod: method,
		ErrorMessage:     errMsg,
		UpdatedAt:        d.now().UTC(),
	}
	if err := d.mirror.SaveStatus(ctx, record); err != nil {
		d.logger.Warn("status mirror update failed",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
	}
}
