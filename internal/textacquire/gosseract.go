package textacquire

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/nkurunziza/docextract/pkg/logger"
)

// GosseractConfig tunes the local tesseract engine.
type GosseractConfig struct {
	Languages []string
	// MinWordConfidence drops recognized words below this confidence, 0-100.
	MinWordConfidence float64
}

// GosseractEngine runs local tesseract in best-accuracy mode with the
// uniform-text-block page segmentation that works well for receipts and
// invoices. A fresh client is created per call; gosseract clients are not
// safe for concurrent use.
type GosseractEngine struct {
	languages         string
	minWordConfidence float64
	logger            logger.Logger
}

var _ OCREngine = (*GosseractEngine)(nil)

// NewGosseractEngine verifies the tesseract installation up front so a
// missing engine surfaces as a permanent AcquisitionError at startup, not as
// a per-job failure.
func NewGosseractEngine(cfg GosseractConfig, log logger.Logger) (*GosseractEngine, error) {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	minConf := cfg.MinWordConfidence
	if minConf <= 0 {
		minConf = 60.0
	}

	probe := gosseract.NewClient()
	defer probe.Close()
	if err := probe.SetLanguage(strings.Join(langs, "+")); err != nil {
		return nil, &AcquisitionError{Reason: "tesseract unavailable", Err: err}
	}

	return &GosseractEngine{
		languages:         strings.Join(langs, "+"),
		minWordConfidence: minConf,
		logger:            log,
	}, nil
}

func (e *GosseractEngine) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages); err != nil {
		return nil, &AcquisitionError{Reason: "tesseract unavailable", Err: err}
	}
	// PSM 6: assume a single uniform block of text.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
		return nil, fmt.Errorf("set tesseract variable: %w", err)
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		// Fall back to plain text when word boxes are not available.
		text, terr := client.Text()
		if terr != nil {
			return nil, fmt.Errorf("recognize text: %w", terr)
		}
		return &OCRResult{Text: strings.TrimSpace(text)}, nil
	}

	var (
		words           []string
		confidenceSum   float64
		confidenceCount int
		lastLine        = -1
	)
	for _, box := range boxes {
		if box.Confidence < e.minWordConfidence {
			continue
		}
		if lastLine >= 0 && box.LineNum != lastLine {
			words = append(words, "\n")
		} else if len(words) > 0 {
			words = append(words, " ")
		}
		words = append(words, box.Word)
		lastLine = box.LineNum
		confidenceSum += box.Confidence
		confidenceCount++
	}

	result := &OCRResult{Text: strings.TrimSpace(strings.Join(words, ""))}
	if confidenceCount > 0 {
		result.Confidence = confidenceSum / float64(confidenceCount)
	}
	e.logger.Debug("tesseract page recognized",
		logger.Int("words", confidenceCount),
		logger.Float64("confidence", result.Confidence),
	)
	return result, nil
}
