package textacquire

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// TextractConfig configures the AWS Textract OCR engine.
type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

// TextractEngine recognizes page text with AWS Textract DetectDocumentText.
// Line blocks below the confidence threshold are dropped.
type TextractEngine struct {
	client        *textract.Client
	minConfidence float32
	logger        logger.Logger
}

var _ OCREngine = (*TextractEngine)(nil)

func NewTextractEngine(ctx context.Context, cfg TextractConfig, log logger.Logger) (*TextractEngine, error) {
	if cfg.Region == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, &AcquisitionError{Reason: "textract credentials not configured"}
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 60.0
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &TextractEngine{
		client:        textract.NewFromConfig(awsCfg),
		minConfidence: cfg.MinConfidence,
		logger:        log,
	}, nil
}

func (e *TextractEngine) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	out, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: image},
	})
	if err != nil {
		return nil, classifyTextractError(err)
	}

	var (
		lines           []string
		confidenceSum   float64
		confidenceCount int
	)
	for _, block := range out.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < e.minConfidence {
			continue
		}
		lines = append(lines, *block.Text)
		if block.Confidence != nil {
			confidenceSum += float64(*block.Confidence)
			confidenceCount++
		}
	}

	result := &OCRResult{Text: strings.Join(lines, "\n")}
	if confidenceCount > 0 {
		result.Confidence = confidenceSum / float64(confidenceCount)
	}
	e.logger.Debug("textract page recognized",
		logger.Int("lines", len(lines)),
		logger.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// classifyTextractError maps Textract failures onto the provider taxonomy:
// throttling and server faults retry, bad requests do not.
func classifyTextractError(err error) error {
	var throttle *types.ThrottlingException
	var internal *types.InternalServerError
	var limit *types.LimitExceededException
	var tooLarge *types.DocumentTooLargeException
	var badDoc *types.UnsupportedDocumentException

	switch {
	case errors.As(err, &throttle), errors.As(err, &internal), errors.As(err, &limit):
		return &provider.TransientError{Message: "textract call failed", Err: err}
	case errors.As(err, &tooLarge), errors.As(err, &badDoc):
		return &provider.PermanentError{Message: "textract rejected document", Err: err}
	}
	return &provider.TransientError{Message: "textract call failed", Err: err}
}
