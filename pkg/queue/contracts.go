package queue

import (
	"context"
	"sync"
	"time"
)

// TaskTypeExtraction is the task type extraction messages are enqueued under.
const TaskTypeExtraction = "extraction:process"

// Message carries one extraction attempt through the queue. Attempt is
// 0-based and increments each time the dispatcher re-enqueues the job for a
// retry, so every attempt gets its own task identity.
type Message struct {
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler processes one delivered message. Returning a non-nil error makes
// the transport redeliver the message; the dispatcher therefore swallows
// errors it has already converted into job state.
type Handler func(ctx context.Context, msg Message) error

// Producer enqueues extraction messages. delay > 0 defers the delivery,
// which is how retry backoff reaches the transport.
type Producer interface {
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error
}

// Consumer runs a delivery loop until the context is cancelled.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
}

// JobStatusRecord is the terminal-status mirror entry kept next to the queue
// for cheap polling without a database round trip.
type JobStatusRecord struct {
	JobID            string    `json:"job_id"`
	Status           string    `json:"status"`
	ExtractionMethod string    `json:"extraction_method,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusMirror stores and serves job status records.
type StatusMirror interface {
	SaveStatus(ctx context.Context, record JobStatusRecord) error
	// GetStatus returns the record and whether one exists.
	GetStatus(ctx context.Context, jobID string) (*JobStatusRecord, bool, error)
}

// NopMirror discards status records. Used where no mirror is configured.
type NopMirror struct{}

func (NopMirror) SaveStatus(ctx context.Context, record JobStatusRecord) error {
	return nil
}

func (NopMirror) GetStatus(ctx context.Context, jobID string) (*JobStatusRecord, bool, error) {
	return nil, false, nil
}

// MemoryMirror keeps status records in a map. For tests.
type MemoryMirror struct {
	mu      sync.Mutex
	records map[string]JobStatusRecord
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{records: make(map[string]JobStatusRecord)}
}

func (m *MemoryMirror) SaveStatus(ctx context.Context, record JobStatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.JobID] = record
	return nil
}

func (m *MemoryMirror) GetStatus(ctx context.Context, jobID string) (*JobStatusRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[jobID]
	if !ok {
		return nil, false, nil
	}
	return &record, true, nil
}
