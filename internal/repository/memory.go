package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nkurunziza/docextract/internal/models"
)

// MemoryStore is an in-memory implementation of all three repositories. One
// mutex covers every map, which is what makes CommitCompleted and
// CreateIfNoActive atomic. Used in tests and single-process setups.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]*models.Document
	jobs      map[string]*models.ExtractionJob
	results   map[string]*models.ExtractedData // keyed by job id
}

var (
	_ DocumentsRepository = (*MemoryStore)(nil)
	_ JobsRepository      = (*MemoryStore)(nil)
	_ ResultsRepository   = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*models.Document),
		jobs:      make(map[string]*models.ExtractionJob),
		results:   make(map[string]*models.ExtractedData),
	}
}

func (s *MemoryStore) Create(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) CreateIfNoActive(ctx context.Context, job *models.ExtractionJob) (*models.ExtractionJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.DocumentID == job.DocumentID && existing.Status.Active() {
			return cloneJob(existing), false, nil
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), true, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListByDocument(ctx context.Context, documentID string) ([]*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ExtractionJob
	for _, job := range s.jobs {
		if job.DocumentID == documentID {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ClaimPending(ctx context.Context, id string, at time.Time) (*models.ExtractionJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if job.Status != models.JobPending {
		return cloneJob(job), false, nil
	}
	job.Status = models.JobProcessing
	started := at
	job.StartedAt = &started
	return cloneJob(job), true, nil
}

func (s *MemoryStore) RequeueForRetry(ctx context.Context, id string, diags []models.Diagnostic) (*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != models.JobProcessing {
		return nil, ErrInvalidTransition
	}
	job.Status = models.JobPending
	job.RetryCount++
	job.StartedAt = nil
	job.Diagnostics = cloneDiags(diags)
	return cloneJob(job), nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, message string, diags []models.Diagnostic, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = models.JobFailed
	job.ErrorMessage = message
	job.Diagnostics = cloneDiags(diags)
	completed := at
	job.CompletedAt = &completed
	if job.StartedAt != nil {
		job.ProcessingTimeSeconds = at.Sub(*job.StartedAt).Seconds()
	}
	return nil
}

func (s *MemoryStore) CancelPending(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != models.JobPending {
		return false, nil
	}
	job.Status = models.JobCancelled
	completed := at
	job.CompletedAt = &completed
	return true, nil
}

func (s *MemoryStore) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ExtractionJob
	for _, job := range s.jobs {
		if job.Status == models.JobProcessing && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

func (s *MemoryStore) CommitCompleted(ctx context.Context, data *models.ExtractedData, diags []models.Diagnostic, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[data.JobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.JobProcessing {
		return ErrInvalidTransition
	}
	job.Status = models.JobCompleted
	job.ExtractionMethod = data.ExtractionMethod
	job.Diagnostics = cloneDiags(diags)
	completed := at
	job.CompletedAt = &completed
	if job.StartedAt != nil {
		job.ProcessingTimeSeconds = at.Sub(*job.StartedAt).Seconds()
	}
	s.results[data.JobID] = cloneData(data)
	return nil
}

func (s *MemoryStore) GetByJobID(ctx context.Context, jobID string) (*models.ExtractedData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.results[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneData(data), nil
}

func (s *MemoryStore) GetLatestByDocument(ctx context.Context, documentID string) (*models.ExtractedData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.ExtractedData
	for _, data := range s.results {
		if data.DocumentID != documentID {
			continue
		}
		if latest == nil || data.CreatedAt.After(latest.CreatedAt) {
			latest = data
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneData(latest), nil
}

func cloneJob(job *models.ExtractionJob) *models.ExtractionJob {
	cp := *job
	if job.StartedAt != nil {
		started := *job.StartedAt
		cp.StartedAt = &started
	}
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		cp.CompletedAt = &completed
	}
	cp.Diagnostics = cloneDiags(job.Diagnostics)
	return &cp
}

func cloneDiags(diags []models.Diagnostic) []models.Diagnostic {
	if diags == nil {
		return nil
	}
	out := make([]models.Diagnostic, len(diags))
	copy(out, diags)
	return out
}

func cloneData(data *models.ExtractedData) *models.ExtractedData {
	cp := *data
	cp.Fields = data.Fields.Clone()
	cp.FieldConfidence = make(map[string]float64, len(data.FieldConfidence))
	for k, v := range data.FieldConfidence {
		cp.FieldConfidence[k] = v
	}
	return &cp
}
