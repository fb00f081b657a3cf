package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/repository"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/queue"
)

// Watchdog defaults.
const (
	DefaultStaleAfter    = 10 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Watchdog guarantees the "always reaches a terminal state" property: jobs
// stuck in PROCESSING past the staleness threshold (crashed worker, lost
// message) are forced through the same retry-or-fail decision as any other
// transient failure.
type Watchdog struct {
	jobs       repository.JobsRepository
	producer   queue.Producer
	staleAfter time.Duration
	interval   time.Duration
	backoff    Config
	logger     logger.Logger
	now        func() time.Time
}

func NewWatchdog(jobs repository.JobsRepository, producer queue.Producer, staleAfter, interval time.Duration, backoff Config, log logger.Logger) *Watchdog {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Watchdog{
		jobs:       jobs,
		producer:   producer,
		staleAfter: staleAfter,
		interval:   interval,
		backoff:    backoff.withDefaults(),
		logger:     log,
		now:        time.Now,
	}
}

// Run sweeps periodically until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("watchdog sweep failed", logger.Error(err))
			}
		}
	}
}

// Sweep finds stale PROCESSING jobs and pushes each back to a retry or a
// terminal failure.
func (w *Watchdog) Sweep(ctx context.Context) error {
	cutoff := w.now().UTC().Add(-w.staleAfter)
	stale, err := w.jobs.StaleProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}

	for _, job := range stale {
		w.recover(ctx, job)
	}
	return nil
}

func (w *Watchdog) recover(ctx context.Context, job *models.ExtractionJob) {
	diag := models.Diagnostic{
		Strategy: "watchdog",
		Class:    models.DiagTransient,
		Message:  fmt.Sprintf("worker lost: processing exceeded %s", w.staleAfter),
		At:       w.now().UTC(),
	}
	diags := append(append([]models.Diagnostic{}, job.Diagnostics...), diag)

	if job.RetryCount >= job.MaxRetries {
		msg := fmt.Sprintf("retries exhausted (%d/%d): %s", job.RetryCount, job.MaxRetries, diag.Message)
		if err := w.jobs.MarkFailed(ctx, job.ID, msg, diags, w.now().UTC()); err != nil {
			w.logger.Error("watchdog failed to terminate stale job",
				logger.String("jobId", job.ID),
				logger.Error(err),
			)
			return
		}
		w.logger.Warn("stale job marked failed", logger.String("jobId", job.ID))
		return
	}

	updated, err := w.jobs.RequeueForRetry(ctx, job.ID, diags)
	if err != nil {
		if !errors.Is(err, repository.ErrInvalidTransition) {
			w.logger.Error("watchdog failed to requeue stale job",
				logger.String("jobId", job.ID),
				logger.Error(err),
			)
		}
		return
	}

	delay := backoffDelay(updated.RetryCount, w.backoff.BackoffBase, w.backoff.BackoffMax)
	msg := queue.Message{
		JobID:      updated.ID,
		DocumentID: updated.DocumentID,
		Attempt:    updated.RetryCount,
		EnqueuedAt: w.now().UTC(),
	}
	if err := w.producer.Enqueue(ctx, msg, delay); err != nil {
		w.logger.Error("watchdog failed to re-enqueue stale job",
			logger.String("jobId", job.ID),
			logger.Error(err),
		)
		return
	}
	w.logger.Warn("stale job recovered for retry",
		logger.String("jobId", job.ID),
		logger.Int("retryCount", updated.RetryCount),
		logger.Duration("delay", delay),
	)
}
