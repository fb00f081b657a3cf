package validator

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/nkurunziza/docextract/pkg/logger"
)

func validPNG(t *testing.T) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidateAcceptsMatchingContent(t *testing.T) {
	v := NewDocumentValidator(0, logger.NewTestLogger())

	format, mime, err := v.Validate("scan.png", validPNG(t))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if string(format) != "png" || mime != "image/png" {
		t.Errorf("got format=%q mime=%q", format, mime)
	}

	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF")
	format, mime, err = v.Validate("invoice.pdf", pdf)
	if err != nil {
		t.Fatalf("Validate pdf: %v", err)
	}
	if string(format) != "pdf" || mime != "application/pdf" {
		t.Errorf("got format=%q mime=%q", format, mime)
	}
}

func TestValidateRejections(t *testing.T) {
	v := NewDocumentValidator(16, logger.NewTestLogger())

	cases := []struct {
		name     string
		filename string
		content  []byte
		wantCode string
	}{
		{"unsupported extension", "notes.txt", []byte("hello"), CodeUnsupportedFormat},
		{"no extension", "README", []byte("hello"), CodeUnsupportedFormat},
		{"empty file", "scan.png", nil, CodeEmptyFile},
		{"oversized file", "scan.png", bytes.Repeat([]byte{0x89}, 32), CodeFileTooLarge},
		{"content mismatch", "scan.png", []byte("plain text"), CodeContentMismatch},
	}

	for _, tc := range cases {
		_, _, err := v.Validate(tc.filename, tc.content)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
			continue
		}
		if ve.Code != tc.wantCode {
			t.Errorf("%s: code = %q, want %q", tc.name, ve.Code, tc.wantCode)
		}
	}
}

func TestValidateCorruptedPDFIsRejected(t *testing.T) {
	v := NewDocumentValidator(0, logger.NewTestLogger())

	_, _, err := v.Validate("broken.pdf", []byte("this is definitely not a pdf"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Code != CodeContentMismatch {
		t.Errorf("code = %q, want %q", ve.Code, CodeContentMismatch)
	}
}
