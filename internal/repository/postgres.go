package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkurunziza/docextract/internal/models"
)

// NewPool opens a pgx pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

// The partial unique index is what makes CreateIfNoActive a single atomic
// check-and-create: two concurrent inserts for the same document cannot both
// land while one is active.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL DEFAULT '',
	filename    TEXT NOT NULL,
	format      TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	size_bytes  BIGINT NOT NULL,
	storage_key TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_jobs (
	id                      TEXT PRIMARY KEY,
	document_id             TEXT NOT NULL REFERENCES documents(id),
	status                  TEXT NOT NULL,
	retry_count             INT NOT NULL DEFAULT 0,
	max_retries             INT NOT NULL DEFAULT 3,
	extraction_method       TEXT NOT NULL DEFAULT '',
	error_message           TEXT NOT NULL DEFAULT '',
	diagnostics             JSONB NOT NULL DEFAULT '[]',
	created_at              TIMESTAMPTZ NOT NULL,
	started_at              TIMESTAMPTZ,
	completed_at            TIMESTAMPTZ,
	processing_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_extraction_jobs_active
	ON extraction_jobs (document_id)
	WHERE status IN ('pending', 'processing');

CREATE INDEX IF NOT EXISTS ix_extraction_jobs_document
	ON extraction_jobs (document_id, created_at DESC);

CREATE TABLE IF NOT EXISTS extracted_data (
	id                 TEXT PRIMARY KEY,
	job_id             TEXT NOT NULL UNIQUE REFERENCES extraction_jobs(id),
	document_id        TEXT NOT NULL,
	fields             JSONB NOT NULL,
	field_confidence   JSONB NOT NULL,
	overall_confidence DOUBLE PRECISION NOT NULL,
	extraction_method  TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_extracted_data_document
	ON extracted_data (document_id, created_at DESC);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

type PostgresDocumentsRepository struct {
	pool *pgxpool.Pool
}

var _ DocumentsRepository = (*PostgresDocumentsRepository)(nil)

func NewPostgresDocumentsRepository(pool *pgxpool.Pool) *PostgresDocumentsRepository {
	return &PostgresDocumentsRepository{pool: pool}
}

func (r *PostgresDocumentsRepository) Create(ctx context.Context, doc *models.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, owner_id, filename, format, mime_type, size_bytes, storage_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		doc.ID,
		doc.OwnerID,
		doc.Filename,
		string(doc.Format),
		doc.MIMEType,
		doc.SizeBytes,
		doc.StorageKey,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *PostgresDocumentsRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var (
		doc    models.Document
		format string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, filename, format, mime_type, size_bytes, storage_key, created_at
		FROM documents
		WHERE id = $1
	`, id).Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Filename,
		&format,
		&doc.MIMEType,
		&doc.SizeBytes,
		&doc.StorageKey,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query document: %w", err)
	}
	doc.Format = models.DocumentFormat(format)
	return &doc, nil
}

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

var _ JobsRepository = (*PostgresJobsRepository)(nil)

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

const jobColumns = `id, document_id, status, retry_count, max_retries, extraction_method, error_message, diagnostics, created_at, started_at, completed_at, processing_time_seconds`

func (r *PostgresJobsRepository) CreateIfNoActive(ctx context.Context, job *models.ExtractionJob) (*models.ExtractionJob, bool, error) {
	diags, err := marshalDiags(job.Diagnostics)
	if err != nil {
		return nil, false, err
	}

	// Insert and lookup race against each other when the active job reaches a
	// terminal state in between, so take another lap in that case.
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO extraction_jobs (id, document_id, status, retry_count, max_retries, diagnostics, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (document_id) WHERE status IN ('pending', 'processing') DO NOTHING
		`,
			job.ID,
			job.DocumentID,
			string(job.Status),
			job.RetryCount,
			job.MaxRetries,
			diags,
			job.CreatedAt,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			created, err := r.GetJob(ctx, job.ID)
			if err != nil {
				return nil, false, err
			}
			return created, true, nil
		}

		existing, err := r.activeByDocument(ctx, job.DocumentID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("create job for document %s: active job check kept racing", job.DocumentID)
}

func (r *PostgresJobsRepository) activeByDocument(ctx context.Context, documentID string) (*models.ExtractionJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM extraction_jobs
		WHERE document_id = $1 AND status IN ('pending', 'processing')
	`, documentID)
	return scanJob(row)
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, id string) (*models.ExtractionJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM extraction_jobs
		WHERE id = $1
	`, id)
	return scanJob(row)
}

func (r *PostgresJobsRepository) ListByDocument(ctx context.Context, documentID string) ([]*models.ExtractionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM extraction_jobs
		WHERE document_id = $1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.ExtractionJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}

func (r *PostgresJobsRepository) ClaimPending(ctx context.Context, id string, at time.Time) (*models.ExtractionJob, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}

	job, getErr := r.GetJob(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	return job, tag.RowsAffected() == 1, nil
}

func (r *PostgresJobsRepository) RequeueForRetry(ctx context.Context, id string, diags []models.Diagnostic) (*models.ExtractionJob, error) {
	payload, err := marshalDiags(diags)
	if err != nil {
		return nil, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'pending', retry_count = retry_count + 1, started_at = NULL, diagnostics = $2
		WHERE id = $1 AND status = 'processing'
	`, id, payload)
	if err != nil {
		return nil, fmt.Errorf("requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	return r.GetJob(ctx, id)
}

func (r *PostgresJobsRepository) MarkFailed(ctx context.Context, id string, message string, diags []models.Diagnostic, at time.Time) error {
	payload, err := marshalDiags(diags)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'failed',
			error_message = $2,
			diagnostics = $3,
			completed_at = $4,
			processing_time_seconds = COALESCE(EXTRACT(EPOCH FROM ($4 - started_at))::float8, 0)
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, message, payload, at)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *PostgresJobsRepository) CancelPending(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresJobsRepository) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.ExtractionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM extraction_jobs
		WHERE status = 'processing' AND started_at < $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.ExtractionJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", rows.Err())
	}
	return jobs, nil
}

type PostgresResultsRepository struct {
	pool *pgxpool.Pool
}

var _ ResultsRepository = (*PostgresResultsRepository)(nil)

func NewPostgresResultsRepository(pool *pgxpool.Pool) *PostgresResultsRepository {
	return &PostgresResultsRepository{pool: pool}
}

func (r *PostgresResultsRepository) CommitCompleted(ctx context.Context, data *models.ExtractedData, diags []models.Diagnostic, at time.Time) error {
	fields, err := json.Marshal(data.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	confidence, err := json.Marshal(data.FieldConfidence)
	if err != nil {
		return fmt.Errorf("marshal field confidence: %w", err)
	}
	diagPayload, err := marshalDiags(diags)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'completed',
			extraction_method = $2,
			diagnostics = $3,
			completed_at = $4,
			processing_time_seconds = COALESCE(EXTRACT(EPOCH FROM ($4 - started_at))::float8, 0)
		WHERE id = $1 AND status = 'processing'
	`, data.JobID, data.ExtractionMethod, diagPayload, at)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO extracted_data (id, job_id, document_id, fields, field_confidence, overall_confidence, extraction_method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		data.ID,
		data.JobID,
		data.DocumentID,
		fields,
		confidence,
		data.OverallConfidence,
		data.ExtractionMethod,
		data.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert extracted data: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit extraction result: %w", err)
	}
	return nil
}

const dataColumns = `id, job_id, document_id, fields, field_confidence, overall_confidence, extraction_method, created_at`

func (r *PostgresResultsRepository) GetByJobID(ctx context.Context, jobID string) (*models.ExtractedData, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+dataColumns+`
		FROM extracted_data
		WHERE job_id = $1
	`, jobID)
	return scanData(row)
}

func (r *PostgresResultsRepository) GetLatestByDocument(ctx context.Context, documentID string) (*models.ExtractedData, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+dataColumns+`
		FROM extracted_data
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, documentID)
	return scanData(row)
}

func marshalDiags(diags []models.Diagnostic) ([]byte, error) {
	if diags == nil {
		diags = []models.Diagnostic{}
	}
	payload, err := json.Marshal(diags)
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostics: %w", err)
	}
	return payload, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.ExtractionJob, error) {
	var (
		job    models.ExtractionJob
		status string
		diags  []byte
	)
	err := row.Scan(
		&job.ID,
		&job.DocumentID,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ExtractionMethod,
		&job.ErrorMessage,
		&diags,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ProcessingTimeSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	if len(diags) > 0 {
		if err := json.Unmarshal(diags, &job.Diagnostics); err != nil {
			return nil, fmt.Errorf("decode diagnostics: %w", err)
		}
	}
	return &job, nil
}

func scanData(row rowScanner) (*models.ExtractedData, error) {
	var (
		data       models.ExtractedData
		fields     []byte
		confidence []byte
	)
	err := row.Scan(
		&data.ID,
		&data.JobID,
		&data.DocumentID,
		&fields,
		&confidence,
		&data.OverallConfidence,
		&data.ExtractionMethod,
		&data.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan extracted data: %w", err)
	}
	if err := json.Unmarshal(fields, &data.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal(confidence, &data.FieldConfidence); err != nil {
		return nil, fmt.Errorf("decode field confidence: %w", err)
	}
	return &data, nil
}
