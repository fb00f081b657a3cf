package document

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/repository"
	"github.com/nkurunziza/docextract/internal/utils/validator"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/storage"
)

// Service is the upload surface: it validates an incoming file, stores the
// blob and registers the document record. Documents are immutable after
// creation; everything downstream only reads them.
type Service struct {
	docs      repository.DocumentsRepository
	blobs     storage.Storage
	validator *validator.DocumentValidator
	logger    logger.Logger
	now       func() time.Time
}

func NewService(
	docs repository.DocumentsRepository,
	blobs storage.Storage,
	v *validator.DocumentValidator,
	log logger.Logger,
) *Service {
	return &Service{
		docs:      docs,
		blobs:     blobs,
		validator: v,
		logger:    log,
		now:       time.Now,
	}
}

// Upload validates the file, writes the blob and creates the document
// record. Validation failures surface as *validator.ValidationError and
// leave nothing behind.
func (s *Service) Upload(ctx context.Context, filename, ownerID string, content []byte) (*models.Document, error) {
	format, mime, err := s.validator.Validate(filename, content)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := fmt.Sprintf("documents/%s.%s", id, format)
	if _, err := s.blobs.Store(ctx, bytes.NewReader(content), key); err != nil {
		return nil, fmt.Errorf("store document blob: %w", err)
	}

	doc := &models.Document{
		ID:         id,
		OwnerID:    ownerID,
		Filename:   filename,
		Format:     format,
		MIMEType:   mime,
		SizeBytes:  int64(len(content)),
		StorageKey: key,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		// Best effort: do not leave an orphaned blob behind.
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn("failed to remove blob after create error",
				logger.String("key", key),
				logger.Error(derr),
			)
		}
		return nil, fmt.Errorf("create document record: %w", err)
	}

	s.logger.Info("document uploaded",
		logger.String("documentId", doc.ID),
		logger.String("filename", filename),
		logger.Int64("size", doc.SizeBytes),
	)
	return doc, nil
}

// Get returns the document record.
func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.docs.GetByID(ctx, id)
}
