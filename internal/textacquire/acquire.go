package textacquire

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/nkurunziza/docextract/pkg/logger"
)

const maxPageWorkers = 4

// Acquirer turns a document blob into plain text. PDFs get their text layer
// read directly; pages that look scanned are rasterized and OCRed. Images go
// straight to OCR.
type Acquirer struct {
	engine   OCREngine
	renderer PageRenderer
	logger   logger.Logger
}

func NewAcquirer(engine OCREngine, renderer PageRenderer, log logger.Logger) *Acquirer {
	return &Acquirer{
		engine:   engine,
		renderer: renderer,
		logger:   log,
	}
}

// Acquire extracts the document text. mimeType is the declared type of the
// blob; anything that is not a PDF is treated as a single page image.
func (a *Acquirer) Acquire(ctx context.Context, blob []byte, mimeType string) (*AcquiredText, error) {
	if mimeType == "application/pdf" {
		return a.acquirePDF(ctx, blob)
	}
	return a.acquireImage(ctx, blob)
}

func (a *Acquirer) acquirePDF(ctx context.Context, blob []byte) (*AcquiredText, error) {
	reader := bytes.NewReader(blob)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, &AcquisitionError{Reason: "unreadable pdf", Err: err}
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, &AcquisitionError{Reason: "pdf has no pages"}
	}

	pages := make([]PageText, numPages)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxPageWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			text := a.directPageText(pdfReader, pageNum)
			if !needsOCR(text) {
				pages[pageNum-1] = PageText{Number: pageNum, Method: MethodDirect, Text: text}
				return nil
			}

			ocrText, err := a.ocrPDFPage(gctx, blob, pageNum)
			if err != nil {
				return err
			}
			pages[pageNum-1] = PageText{Number: pageNum, Method: MethodOCR, Text: ocrText}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })

	result := &AcquiredText{Pages: pages, PageCount: numPages, Text: joinPages(pages)}
	if strings.TrimSpace(result.Text) == "" {
		return nil, &AcquisitionError{Reason: "every page yielded unreadable output"}
	}

	a.logger.Info("document text acquired",
		logger.Int("pages", numPages),
		logger.Int("chars", len(result.Text)),
	)
	return result, nil
}

// directPageText reads the PDF text layer of one page. Extraction failures
// yield empty text, which sends the page down the OCR path.
func (a *Acquirer) directPageText(reader *pdf.Reader, pageNum int) string {
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		a.logger.Debug("pdf text layer unreadable, falling back to ocr",
			logger.Int("page", pageNum),
			logger.Error(err),
		)
		return ""
	}
	return text
}

func (a *Acquirer) ocrPDFPage(ctx context.Context, blob []byte, pageNum int) (string, error) {
	if a.engine == nil {
		return "", &AcquisitionError{Reason: "ocr engine unavailable"}
	}
	if a.renderer == nil {
		return "", &AcquisitionError{Reason: "pdf rasterizer unavailable"}
	}

	raster, err := a.renderer.Render(ctx, blob, pageNum, OCRRasterDPI)
	if err != nil {
		return "", fmt.Errorf("rasterize page %d: %w", pageNum, err)
	}
	enhanced, err := enhanceForOCR(raster)
	if err != nil {
		return "", fmt.Errorf("enhance page %d: %w", pageNum, err)
	}
	result, err := a.engine.Recognize(ctx, enhanced)
	if err != nil {
		return "", fmt.Errorf("ocr page %d: %w", pageNum, err)
	}
	return result.Text, nil
}

func (a *Acquirer) acquireImage(ctx context.Context, blob []byte) (*AcquiredText, error) {
	if a.engine == nil {
		return nil, &AcquisitionError{Reason: "ocr engine unavailable"}
	}

	enhanced, err := enhanceForOCR(blob)
	if err != nil {
		return nil, &AcquisitionError{Reason: "undecodable image", Err: err}
	}

	result, err := a.engine.Recognize(ctx, enhanced)
	if err != nil {
		return nil, fmt.Errorf("ocr image: %w", err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, &AcquisitionError{Reason: "every page yielded unreadable output"}
	}

	a.logger.Info("document text acquired",
		logger.Int("pages", 1),
		logger.Int("chars", len(result.Text)),
		logger.Float64("ocrConfidence", result.Confidence),
	)
	return &AcquiredText{
		Text:      result.Text,
		Pages:     []PageText{{Number: 1, Method: MethodOCR, Text: result.Text}},
		PageCount: 1,
	}, nil
}
