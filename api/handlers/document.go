package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nkurunziza/docextract/internal/service/document"
	"github.com/nkurunziza/docextract/internal/utils/validator"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// DocumentHandler exposes the upload surface.
type DocumentHandler struct {
	service *document.Service
	logger  logger.Logger
}

func NewDocumentHandler(service *document.Service, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{service: service, logger: log}
}

// Upload accepts a multipart file and registers it as a document.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid file upload", err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "read uploaded file", err)
		return
	}

	doc, err := h.service.Upload(c.Request.Context(), header.Filename, c.GetString("ownerId"), content)
	if err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Code, Message: verr.Message})
			return
		}
		h.respondError(c, http.StatusInternalServerError, "store document", err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// Get returns the document record.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRepositoryError(c, h.logger, err, "load document")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) respondError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(status, resp)
}
