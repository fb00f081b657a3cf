package extraction

import (
	"context"
	"fmt"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/pkg/converters"
	"github.com/nkurunziza/docextract/pkg/logger"
)

const (
	visionMaxPages  = 10
	visionMaxTokens = 2000
	// Low temperature for extraction accuracy over creativity.
	modelTemperature = 0.1
)

// VisionStrategy sends page images straight to the hosted vision model,
// bypassing OCR entirely.
type VisionStrategy struct {
	client provider.Client
	logger logger.Logger
}

var _ Strategy = (*VisionStrategy)(nil)

func NewVisionStrategy(client provider.Client, log logger.Logger) *VisionStrategy {
	return &VisionStrategy{client: client, logger: log}
}

func (s *VisionStrategy) Name() string { return models.MethodVision }

func (s *VisionStrategy) Extract(ctx context.Context, in *Input) (*Candidate, error) {
	if in.RenderPages == nil {
		return nil, &InputError{Message: "no page images available for vision extraction"}
	}
	images, err := in.RenderPages(ctx, visionMaxPages)
	if err != nil {
		return nil, fmt.Errorf("render pages: %w", err)
	}
	if len(images) == 0 {
		return nil, &InputError{Message: "document produced no page images"}
	}

	merged := models.Fields{}
	mergedConf := map[string]float64{}

	for pageIdx, img := range images {
		resp, err := s.client.Complete(ctx, &provider.Request{
			Prompt:      visionPrompt(pageIdx+1, len(images)),
			Images:      [][]byte{img},
			MaxTokens:   visionMaxTokens,
			Temperature: modelTemperature,
		})
		if err != nil {
			return nil, err
		}

		raw, err := parseModelJSON(resp.Content)
		if err != nil {
			return nil, &BadReplyError{Strategy: s.Name(), Message: "unparseable JSON", Err: err}
		}
		if _, ok := raw["document_type"]; !ok {
			return nil, &BadReplyError{Strategy: s.Name(), Message: "missing document_type key"}
		}

		reported := reportedConfidences(raw)
		fields := converters.Flatten(raw)
		merged = converters.Merge(merged, fields)
		for key := range fields {
			if _, seen := mergedConf[key]; seen {
				continue
			}
			if c, ok := reported[key]; ok {
				mergedConf[key] = c
			} else {
				mergedConf[key] = confidenceForValue(fields[key])
			}
		}
	}

	docType := detectedType(merged)
	s.logger.Info("vision extraction parsed",
		logger.String("documentId", in.DocumentID),
		logger.String("documentType", string(docType)),
		logger.Int("pages", len(images)),
		logger.Int("fields", len(merged)),
	)

	return &Candidate{
		Fields:          merged,
		FieldConfidence: mergedConf,
		DocumentType:    docType,
	}, nil
}

// detectedType reads the normalized document type off the canonical fields.
func detectedType(fields models.Fields) models.DocumentType {
	raw, _ := fields[models.FieldDocumentType].(string)
	docType := models.NormalizeDocumentType(raw)
	fields[models.FieldDocumentType] = string(docType)
	return docType
}
