package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nkurunziza/docextract/internal/service/document"
	"github.com/nkurunziza/docextract/internal/service/extraction"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// Handlers bundles every HTTP handler group.
type Handlers struct {
	Document   *DocumentHandler
	Extraction *ExtractionHandler
}

func NewHandlers(
	documentService *document.Service,
	extractionService *extraction.Service,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Document:   NewDocumentHandler(documentService, log),
		Extraction: NewExtractionHandler(extractionService, log),
	}
}

// ErrorResponse is the error body shared by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
