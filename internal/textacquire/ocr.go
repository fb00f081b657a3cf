package textacquire

import "context"

// OCRResult is the recognized text of one page image together with the mean
// word confidence the engine reported, in [0,100].
type OCRResult struct {
	Text       string
	Confidence float64
}

// OCREngine converts a page image into text. Implementations must return a
// provider.TransientError (or an error IsTransient recognizes) for failures
// worth retrying, so the dispatcher can apply the retry policy; engine
// absence is reported at construction time instead.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (*OCRResult, error)
}
