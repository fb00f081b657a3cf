package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/repository"
	"github.com/nkurunziza/docextract/internal/utils/validator"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/queue"
)

type failingProducer struct{ err error }

func (p failingProducer) Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	return p.err
}

func newFixture(t *testing.T) (*Service, *repository.MemoryStore, *queue.LocalQueue) {
	t.Helper()
	store := repository.NewMemoryStore()
	q := queue.NewLocalQueue(16)
	t.Cleanup(q.Close)
	log := logger.NewTestLogger()
	v := validator.NewDocumentValidator(0, log)
	svc := NewService(store, store, store, v, q, queue.NewMemoryMirror(), nil, log)
	return svc, store, q
}

func seedDocument(t *testing.T, store *repository.MemoryStore, id string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:         id,
		Filename:   "invoice.pdf",
		Format:     models.FormatPDF,
		MIMEType:   "application/pdf",
		SizeBytes:  1024,
		StorageKey: "documents/" + id + ".pdf",
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Create(context.Background(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func TestTriggerExtractionCreatesAndEnqueues(t *testing.T) {
	svc, store, q := newFixture(t)
	doc := seedDocument(t, store, "doc-1")
	ctx := context.Background()

	job, fresh, err := svc.TriggerExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("TriggerExtraction: %v", err)
	}
	if !fresh {
		t.Error("expected a fresh job")
	}
	if job.Status != models.JobPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.MaxRetries != DefaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", job.MaxRetries, DefaultMaxRetries)
	}

	msg, ok := q.TryDequeue()
	if !ok {
		t.Fatal("no message enqueued")
	}
	if msg.JobID != job.ID || msg.DocumentID != doc.ID || msg.Attempt != 0 {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestTriggerExtractionIdempotentWhileActive(t *testing.T) {
	svc, store, q := newFixture(t)
	doc := seedDocument(t, store, "doc-1")
	ctx := context.Background()

	first, _, err := svc.TriggerExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	second, fresh, err := svc.TriggerExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if fresh {
		t.Error("second trigger must not create a new job")
	}
	if second.ID != first.ID {
		t.Errorf("second trigger returned %s, want active job %s", second.ID, first.ID)
	}
	q.TryDequeue()
	if _, ok := q.TryDequeue(); ok {
		t.Error("second trigger must not enqueue")
	}
}

func TestTriggerExtractionConcurrent(t *testing.T) {
	svc, store, _ := newFixture(t)
	doc := seedDocument(t, store, "doc-1")

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	freshCount := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, fresh, err := svc.TriggerExtraction(context.Background(), doc.ID)
			if err != nil {
				t.Errorf("trigger %d: %v", i, err)
				return
			}
			ids[i] = job.ID
			freshCount[i] = fresh
		}(i)
	}
	wg.Wait()

	freshTotal := 0
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("divergent job ids: %s vs %s", ids[i], ids[0])
		}
	}
	for _, f := range freshCount {
		if f {
			freshTotal++
		}
	}
	if freshTotal != 1 {
		t.Errorf("%d triggers reported fresh, want exactly 1", freshTotal)
	}

	jobs, err := store.ListByDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("%d jobs created, want 1", len(jobs))
	}
}

func TestTriggerExtractionValidationFailureLeavesNoJob(t *testing.T) {
	svc, store, _ := newFixture(t)
	doc := seedDocument(t, store, "doc-1")
	doc.Format = models.DocumentFormat("docx")
	doc.ID = "doc-bad"
	if err := store.Create(context.Background(), doc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, _, err := svc.TriggerExtraction(context.Background(), "doc-bad")
	var verr *validator.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Code != validator.CodeUnsupportedFormat {
		t.Errorf("code = %s, want %s", verr.Code, validator.CodeUnsupportedFormat)
	}

	jobs, _ := store.ListByDocument(context.Background(), "doc-bad")
	if len(jobs) != 0 {
		t.Errorf("%d job rows created for rejected document, want 0", len(jobs))
	}
}

func TestTriggerExtractionUnknownDocument(t *testing.T) {
	svc, _, _ := newFixture(t)
	_, _, err := svc.TriggerExtraction(context.Background(), "ghost")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTriggerExtractionEnqueueFailureFailsJob(t *testing.T) {
	store := repository.NewMemoryStore()
	log := logger.NewTestLogger()
	v := validator.NewDocumentValidator(0, log)
	svc := NewService(store, store, store, v, failingProducer{err: errors.New("redis down")}, nil, nil, log)
	doc := seedDocument(t, store, "doc-1")

	_, _, err := svc.TriggerExtraction(context.Background(), doc.ID)
	if err == nil {
		t.Fatal("expected an error")
	}

	jobs, _ := store.ListByDocument(context.Background(), doc.ID)
	if len(jobs) != 1 {
		t.Fatalf("%d jobs, want 1", len(jobs))
	}
	if jobs[0].Status != models.JobFailed {
		t.Errorf("status = %s, want failed", jobs[0].Status)
	}
	if jobs[0].ErrorMessage == "" {
		t.Error("failed job carries no error message")
	}

	// The FAILED job is terminal, so a retrigger starts over.
	svc2 := NewService(store, store, store, v, queue.NewLocalQueue(4), nil, nil, log)
	job, fresh, err := svc2.TriggerExtraction(context.Background(), doc.ID)
	if err != nil || !fresh {
		t.Fatalf("retrigger: fresh=%v err=%v", fresh, err)
	}
	if job.ID == jobs[0].ID {
		t.Error("retrigger reused the failed job")
	}
}

func TestCancelJob(t *testing.T) {
	svc, store, _ := newFixture(t)
	doc := seedDocument(t, store, "doc-1")
	ctx := context.Background()

	job, _, err := svc.TriggerExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := svc.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	if err := svc.CancelJob(ctx, job.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second cancel err = %v, want ErrNotCancellable", err)
	}
}

func TestCancelClaimedJobConflicts(t *testing.T) {
	svc, store, _ := newFixture(t)
	doc := seedDocument(t, store, "doc-1")
	ctx := context.Background()

	job, _, err := svc.TriggerExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, claimed, err := store.ClaimPending(ctx, job.ID, time.Now().UTC()); err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}

	if err := svc.CancelJob(ctx, job.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("cancel of claimed job err = %v, want ErrNotCancellable", err)
	}
}

func TestJobStatusPrefersMirror(t *testing.T) {
	store := repository.NewMemoryStore()
	log := logger.NewTestLogger()
	v := validator.NewDocumentValidator(0, log)
	mirror := queue.NewMemoryMirror()
	q := queue.NewLocalQueue(4)
	defer q.Close()
	svc := NewService(store, store, store, v, q, mirror, nil, log)
	doc := seedDocument(t, store, "doc-1")
	ctx := context.Background()

	job, _, err := svc.TriggerExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// No mirror entry yet: status comes from the repository.
	rec, err := svc.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if rec.Status != string(models.JobPending) {
		t.Errorf("status = %s, want pending", rec.Status)
	}

	mirror.SaveStatus(ctx, queue.JobStatusRecord{
		JobID:            job.ID,
		Status:           string(models.JobCompleted),
		ExtractionMethod: models.MethodVision,
	})
	rec, err = svc.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if rec.Status != string(models.JobCompleted) || rec.ExtractionMethod != models.MethodVision {
		t.Errorf("mirror record not served: %+v", rec)
	}
}

func TestGetResultBeforeCompletion(t *testing.T) {
	svc, store, _ := newFixture(t)
	doc := seedDocument(t, store, "doc-1")
	ctx := context.Background()

	job, _, err := svc.TriggerExtraction(ctx, doc.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := svc.GetResult(ctx, job.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("result of running job err = %v, want ErrNotFound", err)
	}
}
