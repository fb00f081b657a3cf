package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/textacquire"
)

// Input is what a strategy gets to work with. Text and Pages come from the
// acquirer; RenderPages rasterizes page images lazily so only the vision
// strategy pays for rendering.
type Input struct {
	DocumentID string
	MIMEType   string
	Blob       []byte
	Text       string
	Pages      []textacquire.PageText

	// RenderPages returns up to max page images for the document. For image
	// documents this is the original blob; for PDFs each page is rasterized.
	RenderPages func(ctx context.Context, max int) ([][]byte, error)
}

// Candidate is one strategy's raw result before scoring: canonical flat
// fields plus the per-field confidences the strategy derived.
type Candidate struct {
	Fields          models.Fields
	FieldConfidence map[string]float64
	DocumentType    models.DocumentType
}

// Strategy is one extraction algorithm. Extract returns a classified error:
// InputError aborts the whole chain, provider errors and BadReplyError move
// the chain to the next strategy.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, in *Input) (*Candidate, error)
}

// InputError means the document itself is unusable (malformed blob,
// unsupported mimetype); no strategy can succeed, so the chain aborts.
type InputError struct {
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unusable input: %s: %v", e.Message, e.Err)
	}
	return "unusable input: " + e.Message
}

func (e *InputError) Unwrap() error { return e.Err }

// BadReplyError means the model answered but the reply violated the declared
// schema (unparseable JSON, missing required keys). Distinct from
// HTTP/timeout-class provider errors; the chain treats it as permanent for
// the failing strategy only.
type BadReplyError struct {
	Strategy string
	Message  string
	Err      error
}

func (e *BadReplyError) Error() string {
	return fmt.Sprintf("%s returned a schema-violating reply: %s", e.Strategy, e.Message)
}

func (e *BadReplyError) Unwrap() error { return e.Err }

// ExhaustedError is raised when every strategy in the chain failed or came
// back under the confidence floor. Diagnostics hold one entry per attempt in
// chain order.
type ExhaustedError struct {
	Diagnostics []models.Diagnostic
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = fmt.Sprintf("%s (%s)", d.Strategy, d.Class)
	}
	return fmt.Sprintf("all extraction strategies exhausted: %s", strings.Join(parts, ", "))
}

// HasTransient reports whether at least one attempt failed transiently,
// which makes the whole job eligible for a retry.
func (e *ExhaustedError) HasTransient() bool {
	for _, d := range e.Diagnostics {
		if d.Class == models.DiagTransient {
			return true
		}
	}
	return false
}
