package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nkurunziza/docextract/internal/repository"
	"github.com/nkurunziza/docextract/internal/service/extraction"
	"github.com/nkurunziza/docextract/internal/utils/validator"
	"github.com/nkurunziza/docextract/pkg/converters"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// ExtractionHandler exposes the job state machine over HTTP: trigger, poll,
// fetch results, cancel.
type ExtractionHandler struct {
	service *extraction.Service
	logger  logger.Logger
}

func NewExtractionHandler(service *extraction.Service, log logger.Logger) *ExtractionHandler {
	return &ExtractionHandler{service: service, logger: log}
}

// Trigger starts an extraction for the document. Idempotent: when a job is
// already active for the document its id comes back with 200 instead of 202.
func (h *ExtractionHandler) Trigger(c *gin.Context) {
	job, fresh, err := h.service.TriggerExtraction(c.Request.Context(), c.Param("id"))
	if err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Code, Message: verr.Message})
			return
		}
		respondRepositoryError(c, h.logger, err, "trigger extraction")
		return
	}

	status := http.StatusOK
	if fresh {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"job_id": job.ID, "status": job.Status})
}

// GetJob returns the full job record: status, method, retry counters,
// timestamps and the per-strategy diagnostics trail.
func (h *ExtractionHandler) GetJob(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRepositoryError(c, h.logger, err, "load job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetJobStatus serves the lightweight polling view, mirror-first.
func (h *ExtractionHandler) GetJobStatus(c *gin.Context) {
	record, err := h.service.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRepositoryError(c, h.logger, err, "load job status")
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetResult returns the extracted data of a completed job with the field map
// rendered back into its nested shape.
func (h *ExtractionHandler) GetResult(c *gin.Context) {
	data, err := h.service.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRepositoryError(c, h.logger, err, "load extraction result")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                 data.ID,
		"job_id":             data.JobID,
		"document_id":        data.DocumentID,
		"fields":             converters.Nest(data.Fields),
		"field_confidence":   data.FieldConfidence,
		"overall_confidence": data.OverallConfidence,
		"extraction_method":  data.ExtractionMethod,
		"created_at":         data.CreatedAt,
	})
}

// ListJobs returns every job for a document.
func (h *ExtractionHandler) ListJobs(c *gin.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRepositoryError(c, h.logger, err, "list jobs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Cancel cancels a PENDING job. A job already claimed by a worker or in a
// terminal state answers 409.
func (h *ExtractionHandler) Cancel(c *gin.Context) {
	jobID := c.Param("id")
	err := h.service.CancelJob(c.Request.Context(), jobID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "cancelled"})
	case errors.Is(err, extraction.ErrNotCancellable):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "job is not pending"})
	default:
		respondRepositoryError(c, h.logger, err, "cancel job")
	}
}

// respondRepositoryError maps repository errors onto HTTP statuses.
func respondRepositoryError(c *gin.Context, log logger.Logger, err error, message string) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "not found"})
		return
	}
	log.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Message: message})
}
