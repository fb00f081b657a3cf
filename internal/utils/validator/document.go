package validator

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// ValidationError is a synchronous rejection of a document: unsupported
// format, empty or oversized file, or content that does not match the
// declared format. No job is ever created for a document that fails here.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validation error codes.
const (
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeEmptyFile         = "EMPTY_FILE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeContentMismatch   = "CONTENT_MISMATCH"
)

const DefaultMaxFileSize = 50 * 1024 * 1024 // 50MB

// DocumentValidator checks an upload before any row or blob is written:
// extension whitelist, size bounds, and a magic-byte sniff of the content
// against the declared format.
type DocumentValidator struct {
	maxFileSize int64
	logger      logger.Logger
}

func NewDocumentValidator(maxFileSize int64, log logger.Logger) *DocumentValidator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &DocumentValidator{maxFileSize: maxFileSize, logger: log}
}

// Validate checks filename and content and returns the document format plus
// the sniffed MIME type.
func (v *DocumentValidator) Validate(filename string, content []byte) (models.DocumentFormat, string, error) {
	format := models.FormatFromFilename(filename)
	if !format.Valid() {
		return "", "", &ValidationError{
			Code:    CodeUnsupportedFormat,
			Message: fmt.Sprintf("file type %q is not supported", format),
		}
	}

	if len(content) == 0 {
		return "", "", &ValidationError{Code: CodeEmptyFile, Message: "file is empty"}
	}
	if int64(len(content)) > v.maxFileSize {
		return "", "", &ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file exceeds the %d byte limit", v.maxFileSize),
		}
	}

	detected := mimetype.Detect(content)
	if !contentMatchesFormat(detected, format) {
		v.logger.Warn("document content does not match declared format",
			logger.String("filename", filename),
			logger.String("declared", string(format)),
			logger.String("detected", detected.String()),
		)
		return "", "", &ValidationError{
			Code:    CodeContentMismatch,
			Message: fmt.Sprintf("content is %s, not %s", detected.String(), format.MIMEType()),
		}
	}

	return format, detected.String(), nil
}

// ValidateDocument re-checks a stored document record at trigger time.
func (v *DocumentValidator) ValidateDocument(doc *models.Document) error {
	if !doc.Format.Valid() {
		return &ValidationError{
			Code:    CodeUnsupportedFormat,
			Message: fmt.Sprintf("file type %q is not supported", doc.Format),
		}
	}
	if doc.SizeBytes <= 0 {
		return &ValidationError{Code: CodeEmptyFile, Message: "document has no content"}
	}
	return nil
}

// contentMatchesFormat accepts a sniffed type for a declared format. jpg and
// jpeg share a MIME type, so matching goes through the MIME, not the
// extension.
func contentMatchesFormat(detected *mimetype.MIME, format models.DocumentFormat) bool {
	want := format.MIMEType()
	if detected.Is(want) {
		return true
	}
	// TIFF sometimes sniffs as the x- variant.
	if want == "image/tiff" && strings.HasSuffix(detected.String(), "tiff") {
		return true
	}
	return false
}
