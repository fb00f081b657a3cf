package extraction

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/pkg/logger"
)

type fakeClient struct {
	content string
	err     error
	calls   int
}

func (f *fakeClient) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Response{Content: f.content}, nil
}

func renderOnePage(ctx context.Context, max int) ([][]byte, error) {
	return [][]byte{[]byte("fake-png")}, nil
}

func TestVisionStrategyParsesNestedReply(t *testing.T) {
	client := &fakeClient{content: "```json\n" + `{
		"document_type": "invoice",
		"parties": {"issuer": "ACME Ltd", "recipient": "Jane Doe"},
		"financial_data": {"currency": "USD", "subtotal": 100, "tax": 20.5, "total": 120.5},
		"dates": {"issue_date": "2025-03-14", "due_date": "2025-04-14"},
		"extracted_fields": {"invoice_no": "INV-7"}
	}` + "\n```"}
	strategy := NewVisionStrategy(client, logger.NewTestLogger())

	candidate, err := strategy.Extract(context.Background(), &Input{
		DocumentID:  "doc-1",
		RenderPages: renderOnePage,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if candidate.DocumentType != models.DocTypeInvoice {
		t.Errorf("document type = %q, want invoice", candidate.DocumentType)
	}
	if got := candidate.Fields[models.FieldPartiesIssuer]; got != "ACME Ltd" {
		t.Errorf("issuer = %v", got)
	}
	if got := candidate.Fields[models.FieldAmountsTotal]; got != 120.5 {
		t.Errorf("total = %v", got)
	}
	if got := candidate.Fields[models.ExtraFieldPrefix+"invoice_no"]; got != "INV-7" {
		t.Errorf("free-form field lost: %v", got)
	}
	// Numeric values take the top confidence tier.
	if c := candidate.FieldConfidence[models.FieldAmountsTotal]; c != confNumber {
		t.Errorf("total confidence = %f, want %f", c, confNumber)
	}
}

func TestVisionStrategyBadReply(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"prose instead of json", "I could not read this document, sorry."},
		{"missing document_type", `{"parties": {"issuer": "ACME"}}`},
	}
	for _, tc := range cases {
		client := &fakeClient{content: tc.content}
		strategy := NewVisionStrategy(client, logger.NewTestLogger())

		_, err := strategy.Extract(context.Background(), &Input{RenderPages: renderOnePage})
		var bre *BadReplyError
		if !errors.As(err, &bre) {
			t.Errorf("%s: expected BadReplyError, got %v", tc.name, err)
		}
	}
}

func TestVisionStrategyPropagatesProviderError(t *testing.T) {
	client := &fakeClient{err: &provider.TransientError{Message: "504"}}
	strategy := NewVisionStrategy(client, logger.NewTestLogger())

	_, err := strategy.Extract(context.Background(), &Input{RenderPages: renderOnePage})
	if !provider.IsTransient(err) {
		t.Fatalf("expected transient error to pass through, got %v", err)
	}
}

func TestLocalModelDiscountsConfidence(t *testing.T) {
	client := &fakeClient{content: `{
		"document_type": "receipt",
		"store_name": "City Mart",
		"total": 42,
		"currency": "USD",
		"date": "2025-01-02"
	}`}
	strategy := NewLocalModelStrategy(client, logger.NewTestLogger())

	candidate, err := strategy.Extract(context.Background(), &Input{Text: "CITY MART receipt total 42"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Raw tier for a number is 0.95; discounted it must be 0.95 × 0.85.
	want := confNumber * localModelDiscount
	if c := candidate.FieldConfidence[models.FieldAmountsTotal]; math.Abs(c-want) > 1e-9 {
		t.Errorf("discounted confidence = %f, want %f", c, want)
	}
	for key, c := range candidate.FieldConfidence {
		if c > localModelDiscount*confNumber+1e-9 {
			t.Errorf("field %s confidence %f exceeds discounted ceiling", key, c)
		}
	}
}

func TestLocalModelRequiresText(t *testing.T) {
	strategy := NewLocalModelStrategy(&fakeClient{}, logger.NewTestLogger())
	_, err := strategy.Extract(context.Background(), &Input{Text: "   "})
	var ie *InputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InputError, got %v", err)
	}
}

func TestHeuristicExtractsCommonFields(t *testing.T) {
	text := `CITY MART SUPERSTORE
123 Main Street
Receipt
Date: 2025-01-02
Milk            2.50
Bread           1.80
Total: $4.30
Thank you for shopping`

	strategy := NewHeuristicStrategy(logger.NewTestLogger())
	candidate, err := strategy.Extract(context.Background(), &Input{Text: text})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if candidate.DocumentType != models.DocTypeReceipt {
		t.Errorf("document type = %q, want receipt", candidate.DocumentType)
	}
	if got := candidate.Fields[models.FieldAmountsTotal]; got != 4.30 {
		t.Errorf("total = %v, want 4.30", got)
	}
	if got := candidate.Fields[models.FieldDatesIssue]; got != "2025-01-02" {
		t.Errorf("issue date = %v", got)
	}
	if got := candidate.Fields[models.FieldAmountsCurrency]; got != "USD" {
		t.Errorf("currency = %v, want USD from $ symbol", got)
	}
	if got := candidate.Fields[models.FieldPartiesIssuer]; got != "CITY MART SUPERSTORE" {
		t.Errorf("issuer = %v", got)
	}

	for key, c := range candidate.FieldConfidence {
		if c > heuristicFieldConfidence {
			t.Errorf("field %s confidence %f exceeds heuristic cap", key, c)
		}
	}
}

func TestHeuristicLeavesUnmatchedFieldsAbsent(t *testing.T) {
	strategy := NewHeuristicStrategy(logger.NewTestLogger())
	candidate, err := strategy.Extract(context.Background(), &Input{Text: "illegible smudge"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, present := candidate.Fields[models.FieldAmountsTotal]; present {
		t.Errorf("total must be absent, not guessed")
	}
	if _, present := candidate.Fields[models.FieldDatesIssue]; present {
		t.Errorf("date must be absent, not guessed")
	}
}

func TestGuessDocumentType(t *testing.T) {
	cases := []struct {
		text string
		want models.DocumentType
	}{
		{"INVOICE #42 Bill To: Jane", models.DocTypeInvoice},
		{"Thank you for shopping! Change due: 0.50", models.DocTypeReceipt},
		{"This Agreement is made between the parties", models.DocTypeContract},
		{"meeting notes from tuesday", models.DocTypeOther},
	}
	for _, tc := range cases {
		if got := guessDocumentType(tc.text); got != tc.want {
			t.Errorf("guessDocumentType(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
