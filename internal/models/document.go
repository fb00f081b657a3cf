package models

import (
	"strings"
	"time"
)

// DocumentFormat is the declared file format of an uploaded document.
type DocumentFormat string

const (
	FormatPDF  DocumentFormat = "pdf"
	FormatJPG  DocumentFormat = "jpg"
	FormatJPEG DocumentFormat = "jpeg"
	FormatPNG  DocumentFormat = "png"
	FormatTIFF DocumentFormat = "tiff"
	FormatBMP  DocumentFormat = "bmp"
	FormatWEBP DocumentFormat = "webp"
)

// SupportedFormats maps every accepted format to its MIME type.
var SupportedFormats = map[DocumentFormat]string{
	FormatPDF:  "application/pdf",
	FormatJPG:  "image/jpeg",
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatTIFF: "image/tiff",
	FormatBMP:  "image/bmp",
	FormatWEBP: "image/webp",
}

// Valid reports whether the format is one of the accepted kinds.
func (f DocumentFormat) Valid() bool {
	_, ok := SupportedFormats[f]
	return ok
}

// MIMEType returns the MIME type declared for the format.
func (f DocumentFormat) MIMEType() string {
	return SupportedFormats[f]
}

// IsPDF reports whether the format is the PDF container.
func (f DocumentFormat) IsPDF() bool {
	return f == FormatPDF
}

// FormatFromFilename derives the format from a filename extension.
func FormatFromFilename(name string) DocumentFormat {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return DocumentFormat(strings.ToLower(name[idx+1:]))
}

// Document is an uploaded file registered with the system. Immutable after
// creation; the extraction core only ever reads it.
type Document struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Filename   string         `json:"filename"`
	Format     DocumentFormat `json:"format"`
	MIMEType   string         `json:"mime_type"`
	SizeBytes  int64          `json:"size_bytes"`
	StorageKey string         `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DocumentType is the semantic kind of a document as detected during
// extraction, not the file format.
type DocumentType string

const (
	DocTypeInvoice  DocumentType = "invoice"
	DocTypeReceipt  DocumentType = "receipt"
	DocTypeContract DocumentType = "contract"
	DocTypeOther    DocumentType = "other"
)

// NormalizeDocumentType folds an arbitrary model-reported type string onto
// one of the known document types.
func NormalizeDocumentType(s string) DocumentType {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case DocTypeInvoice:
		return DocTypeInvoice
	case DocTypeReceipt:
		return DocTypeReceipt
	case DocTypeContract:
		return DocTypeContract
	default:
		return DocTypeOther
	}
}
