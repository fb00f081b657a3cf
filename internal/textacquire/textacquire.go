package textacquire

import (
	"fmt"
	"strings"
	"unicode"
)

// Page acquisition methods.
const (
	MethodDirect = "direct"
	MethodOCR    = "ocr"
)

// PageText is the text of one page together with how it was obtained.
type PageText struct {
	Number int    `json:"number"`
	Method string `json:"method"`
	Text   string `json:"text"`
}

// AcquiredText is the output of the acquirer: concatenated document text
// plus the per-page breakdown.
type AcquiredText struct {
	Text      string
	Pages     []PageText
	PageCount int
}

// AcquisitionError means the document text cannot be obtained at all: the
// OCR engine is missing or every page came back unreadable. Always
// permanent; transient per-call failures are returned as provider errors
// instead and go through the retry policy.
type AcquisitionError struct {
	Reason string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("text acquisition failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("text acquisition failed: %s", e.Reason)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Direct-extraction quality thresholds. A page below either is treated as
// scanned and sent through the OCR path.
const (
	minDirectChars    = 50
	minPrintableRatio = 0.85
)

// needsOCR reports whether a page's direct text layer is too thin to trust.
func needsOCR(text string) bool {
	printable := 0
	total := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsPrint(r) && r != unicode.ReplacementChar {
			printable++
		}
	}
	if printable < minDirectChars {
		return true
	}
	return float64(printable)/float64(total) < minPrintableRatio
}

// joinPages concatenates per-page text with blank lines between pages.
func joinPages(pages []PageText) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, strings.TrimSpace(p.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}
