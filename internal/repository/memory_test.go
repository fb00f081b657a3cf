package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nkurunziza/docextract/internal/models"
)

func newJob(id, documentID string) *models.ExtractionJob {
	return &models.ExtractionJob{
		ID:         id,
		DocumentID: documentID,
		Status:     models.JobPending,
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}
}

func TestCreateIfNoActiveIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	ids := make([]string, callers)
	created := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, fresh, err := store.CreateIfNoActive(ctx, newJob(fmt.Sprintf("job-%d", i), "doc-1"))
			if err != nil {
				t.Errorf("CreateIfNoActive: %v", err)
				return
			}
			ids[i] = job.ID
			created[i] = fresh
		}(i)
	}
	wg.Wait()

	freshCount := 0
	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got job %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
	for _, fresh := range created {
		if fresh {
			freshCount++
		}
	}
	if freshCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", freshCount)
	}

	jobs, err := store.ListByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job row, got %d", len(jobs))
	}
}

func TestCreateIfNoActiveAfterTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, fresh, err := store.CreateIfNoActive(ctx, newJob("job-1", "doc-1"))
	if err != nil || !fresh {
		t.Fatalf("first create: fresh=%v err=%v", fresh, err)
	}
	if err := store.MarkFailed(ctx, first.ID, "boom", nil, time.Now()); err != nil {
		t.Fatal(err)
	}

	second, fresh, err := store.CreateIfNoActive(ctx, newJob("job-2", "doc-1"))
	if err != nil {
		t.Fatal(err)
	}
	if !fresh || second.ID != "job-2" {
		t.Fatalf("terminal job should not block a new one: fresh=%v id=%s", fresh, second.ID)
	}
}

func TestClaimPendingOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.CreateIfNoActive(ctx, newJob("job-1", "doc-1"))

	job, claimed, err := store.ClaimPending(ctx, "job-1", now)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	if job.Status != models.JobProcessing || job.StartedAt == nil {
		t.Fatalf("claim did not transition: %+v", job)
	}

	job, claimed, err = store.ClaimPending(ctx, "job-1", now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("second claim must not succeed")
	}
	if job.Status != models.JobProcessing {
		t.Fatalf("status changed by failed claim: %s", job.Status)
	}

	if _, _, err := store.ClaimPending(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequeueForRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.CreateIfNoActive(ctx, newJob("job-1", "doc-1"))
	store.ClaimPending(ctx, "job-1", time.Now())

	diags := []models.Diagnostic{{Strategy: models.MethodVision, Class: models.DiagTransient, Message: "timeout"}}
	job, err := store.RequeueForRetry(ctx, "job-1", diags)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobPending || job.RetryCount != 1 || job.StartedAt != nil {
		t.Fatalf("requeue state wrong: %+v", job)
	}
	if len(job.Diagnostics) != 1 {
		t.Fatalf("diagnostics not carried: %+v", job.Diagnostics)
	}

	// Not claimable twice without an intermediate claim.
	if _, err := store.RequeueForRetry(ctx, "job-1", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTerminalStatesNeverRevert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.CreateIfNoActive(ctx, newJob("job-1", "doc-1"))
	store.ClaimPending(ctx, "job-1", now)
	if err := store.MarkFailed(ctx, "job-1", "exhausted", nil, now.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}

	// Failing again is a harmless no-op.
	if err := store.MarkFailed(ctx, "job-1", "other", nil, now.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}
	job, _ := store.GetJob(ctx, "job-1")
	if job.ErrorMessage != "exhausted" {
		t.Fatalf("terminal job was mutated: %+v", job)
	}
	if job.ProcessingTimeSeconds != 2 {
		t.Fatalf("processing time = %v, want 2", job.ProcessingTimeSeconds)
	}

	if _, err := store.RequeueForRetry(ctx, "job-1", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("requeue after terminal: %v", err)
	}
	cancelled, err := store.CancelPending(ctx, "job-1", now)
	if err != nil || cancelled {
		t.Fatalf("cancel after terminal: cancelled=%v err=%v", cancelled, err)
	}
}

func TestCancelPendingOnlyBeforeClaim(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.CreateIfNoActive(ctx, newJob("job-1", "doc-1"))
	cancelled, err := store.CancelPending(ctx, "job-1", now)
	if err != nil || !cancelled {
		t.Fatalf("cancel pending: cancelled=%v err=%v", cancelled, err)
	}
	job, _ := store.GetJob(ctx, "job-1")
	if job.Status != models.JobCancelled {
		t.Fatalf("status = %s", job.Status)
	}

	store.CreateIfNoActive(ctx, newJob("job-2", "doc-2"))
	store.ClaimPending(ctx, "job-2", now)
	cancelled, err = store.CancelPending(ctx, "job-2", now)
	if err != nil || cancelled {
		t.Fatalf("cancel after claim must refuse: cancelled=%v err=%v", cancelled, err)
	}
}

func TestCommitCompletedAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.CreateIfNoActive(ctx, newJob("job-1", "doc-1"))
	store.ClaimPending(ctx, "job-1", now)

	diags := []models.Diagnostic{{Strategy: models.MethodVision, Class: models.DiagTransient, Message: "timeout"}}
	data := &models.ExtractedData{
		ID:         "data-1",
		JobID:      "job-1",
		DocumentID: "doc-1",
		Fields: models.Fields{
			models.FieldDocumentType: "receipt",
			models.FieldAmountsTotal: 15.8,
		},
		FieldConfidence: map[string]float64{
			models.FieldDocumentType: 0.595,
			models.FieldAmountsTotal: 0.595,
		},
		OverallConfidence: 0.595,
		ExtractionMethod:  models.MethodLocalModel,
		CreatedAt:         now.Add(3 * time.Second),
	}

	if err := store.CommitCompleted(ctx, data, diags, now.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}

	job, _ := store.GetJob(ctx, "job-1")
	if job.Status != models.JobCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	if job.ExtractionMethod != models.MethodLocalModel {
		t.Fatalf("method = %s", job.ExtractionMethod)
	}
	if len(job.Diagnostics) != 1 || job.Diagnostics[0].Strategy != models.MethodVision {
		t.Fatalf("diagnostics = %+v", job.Diagnostics)
	}
	if job.ProcessingTimeSeconds != 3 {
		t.Fatalf("processing time = %v", job.ProcessingTimeSeconds)
	}

	stored, err := store.GetByJobID(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Fields[models.FieldAmountsTotal] != 15.8 {
		t.Fatalf("fields lost: %+v", stored.Fields)
	}

	// Returned copies must not alias store state.
	stored.Fields[models.FieldAmountsTotal] = 0.0
	again, _ := store.GetByJobID(ctx, "job-1")
	if again.Fields[models.FieldAmountsTotal] != 15.8 {
		t.Fatal("stored result was mutated through a returned copy")
	}

	// A completed job cannot be completed again.
	if err := store.CommitCompleted(ctx, data, nil, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second commit: %v", err)
	}
}

func TestStaleProcessing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now()

	store.CreateIfNoActive(ctx, newJob("job-1", "doc-1"))
	store.ClaimPending(ctx, "job-1", t0)
	store.CreateIfNoActive(ctx, newJob("job-2", "doc-2"))

	stale, err := store.StaleProcessing(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != "job-1" {
		t.Fatalf("stale = %+v", stale)
	}

	stale, _ = store.StaleProcessing(ctx, t0.Add(-time.Minute))
	if len(stale) != 0 {
		t.Fatalf("nothing should be stale before the claim: %+v", stale)
	}
}

func TestGetLatestByDocument(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"job-1", "job-2"} {
		store.CreateIfNoActive(ctx, newJob(id, "doc-1"))
		store.ClaimPending(ctx, id, now)
		data := &models.ExtractedData{
			ID:               "data-" + id,
			JobID:            id,
			DocumentID:       "doc-1",
			Fields:           models.Fields{models.FieldDocumentType: "other"},
			FieldConfidence:  map[string]float64{models.FieldDocumentType: 0.8},
			ExtractionMethod: models.MethodHeuristic,
			CreatedAt:        now.Add(time.Duration(i) * time.Hour),
		}
		if err := store.CommitCompleted(ctx, data, nil, data.CreatedAt); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := store.GetLatestByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.JobID != "job-2" {
		t.Fatalf("latest = %s", latest.JobID)
	}

	if _, err := store.GetLatestByDocument(ctx, "doc-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
