package textacquire

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/nkurunziza/docextract/pkg/logger"
)

// Rasterization resolutions. OCR fallback wants maximum accuracy; vision
// page images trade a little resolution for payload size.
const (
	OCRRasterDPI    = 400
	VisionRasterDPI = 300
)

// PageRenderer rasterizes one PDF page into an image.
type PageRenderer interface {
	Render(ctx context.Context, pdf []byte, page int, dpi int) ([]byte, error)
}

// PdftoppmRenderer shells out to poppler's pdftoppm. The binary is probed at
// construction so a missing poppler installation fails fast.
type PdftoppmRenderer struct {
	binary string
	logger logger.Logger
}

var _ PageRenderer = (*PdftoppmRenderer)(nil)

func NewPdftoppmRenderer(log logger.Logger) (*PdftoppmRenderer, error) {
	binary, err := exec.LookPath("pdftoppm")
	if err != nil {
		return nil, &AcquisitionError{Reason: "pdftoppm not installed", Err: err}
	}
	return &PdftoppmRenderer{binary: binary, logger: log}, nil
}

func (r *PdftoppmRenderer) Render(ctx context.Context, pdf []byte, page int, dpi int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docextract-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create raster workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "page.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write raster input: %w", err)
	}

	prefix := filepath.Join(dir, "out")
	cmd := exec.CommandContext(ctx, r.binary,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		src, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, stderr.String())
	}

	// pdftoppm pads the page suffix depending on the page count, so glob
	// instead of guessing the exact name.
	matches, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no output for page %d", page)
	}

	img, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read rasterized page: %w", err)
	}
	r.logger.Debug("rasterized pdf page",
		logger.Int("page", page),
		logger.Int("dpi", dpi),
		logger.Int("bytes", len(img)),
	)
	return img, nil
}
