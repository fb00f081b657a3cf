package extraction

import (
	"context"
	"strings"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/pkg/converters"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// localModelDiscount scales every confidence the local model produces. The
// local model is measurably less reliable than the hosted vision model, so
// its raw confidences are discounted by a fixed factor before scoring.
const localModelDiscount = 0.85

const localModelMaxTokens = 2000

// LocalModelStrategy extracts structured data from acquired text with a
// locally hosted language model.
type LocalModelStrategy struct {
	client provider.Client
	logger logger.Logger
}

var _ Strategy = (*LocalModelStrategy)(nil)

func NewLocalModelStrategy(client provider.Client, log logger.Logger) *LocalModelStrategy {
	return &LocalModelStrategy{client: client, logger: log}
}

func (s *LocalModelStrategy) Name() string { return models.MethodLocalModel }

func (s *LocalModelStrategy) Extract(ctx context.Context, in *Input) (*Candidate, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, &InputError{Message: "no acquired text for local model extraction"}
	}

	hint := guessDocumentType(in.Text)
	resp, err := s.client.Complete(ctx, &provider.Request{
		Prompt:      textPrompt(hint, in.Text),
		MaxTokens:   localModelMaxTokens,
		Temperature: modelTemperature,
	})
	if err != nil {
		return nil, err
	}

	raw, err := parseModelJSON(resp.Content)
	if err != nil {
		return nil, &BadReplyError{Strategy: s.Name(), Message: "unparseable JSON", Err: err}
	}

	reported := reportedConfidences(raw)
	fields := converters.Flatten(raw)
	if _, ok := fields[models.FieldDocumentType]; !ok {
		fields[models.FieldDocumentType] = string(hint)
	}

	conf := make(map[string]float64, len(fields))
	for key, val := range fields {
		c, ok := reported[key]
		if !ok {
			c = confidenceForValue(val)
		}
		conf[key] = c * localModelDiscount
	}

	docType := detectedType(fields)
	s.logger.Info("local model extraction parsed",
		logger.String("documentId", in.DocumentID),
		logger.String("documentType", string(docType)),
		logger.Int("fields", len(fields)),
	)

	return &Candidate{
		Fields:          fields,
		FieldConfidence: conf,
		DocumentType:    docType,
	}, nil
}
