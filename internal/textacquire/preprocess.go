package textacquire

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Enhancement constants tuned for OCR on scanned receipts and invoices:
// a strong contrast boost and mild sharpening before recognition.
const (
	contrastBoost = 40.0
	sharpenSigma  = 1.5
	jpegQuality   = 100
)

// enhanceForOCR decodes a page image, raises contrast and sharpness, and
// re-encodes it for the OCR engine.
func enhanceForOCR(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	enhanced := imaging.Grayscale(img)
	enhanced = imaging.AdjustContrast(enhanced, contrastBoost)
	enhanced = imaging.Sharpen(enhanced, sharpenSigma)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, enhanced, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode enhanced image: %w", err)
	}
	return buf.Bytes(), nil
}
