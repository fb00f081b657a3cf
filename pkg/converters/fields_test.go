package converters

import (
	"reflect"
	"testing"

	"github.com/nkurunziza/docextract/internal/models"
)

func TestFlattenUniversalShape(t *testing.T) {
	raw := map[string]interface{}{
		"document_type": "invoice",
		"parties": map[string]interface{}{
			"issuer":    "Acme Ltd",
			"recipient": "Jane Doe",
		},
		"financial_data": map[string]interface{}{
			"currency": "USD",
			"subtotal": 90.0,
			"tax":      10.0,
			"total":    100.0,
		},
		"dates": map[string]interface{}{
			"issue_date": "2024-03-01",
			"due_date":   "2024-03-31",
		},
		"extracted_fields": map[string]interface{}{
			"invoice_number": "INV-42",
		},
	}

	got := Flatten(raw)

	want := models.Fields{
		models.FieldDocumentType:             "invoice",
		models.FieldPartiesIssuer:            "Acme Ltd",
		models.FieldPartiesRecipient:         "Jane Doe",
		models.FieldAmountsCurrency:          "USD",
		models.FieldAmountsSubtotal:          90.0,
		models.FieldAmountsTax:               10.0,
		models.FieldAmountsTotal:             100.0,
		models.FieldDatesIssue:               "2024-03-01",
		models.FieldDatesDue:                 "2024-03-31",
		models.ExtraFieldPrefix + "invoice_number": "INV-42",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Flatten mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestFlattenPerTypeAliases(t *testing.T) {
	// The per-type prompts name fields differently than the universal shape.
	raw := map[string]interface{}{
		"merchant_name":  "Corner Cafe",
		"date":           "12/01/2024",
		"total_amount":   "15.80",
		"currency":       "EUR",
		"payment_method": "card",
	}

	got := Flatten(raw)

	if got[models.FieldPartiesIssuer] != "Corner Cafe" {
		t.Errorf("merchant_name not folded to issuer: %#v", got)
	}
	if got[models.FieldDatesIssue] != "12/01/2024" {
		t.Errorf("date not folded to issue date: %#v", got)
	}
	if got[models.FieldAmountsTotal] != "15.80" {
		t.Errorf("total_amount not folded to total: %#v", got)
	}
	if got[models.ExtraFieldPrefix+"payment_method"] != "card" {
		t.Errorf("payment_method should stay as free-form field: %#v", got)
	}
}

func TestFlattenSkipsEmptyValues(t *testing.T) {
	raw := map[string]interface{}{
		"vendor_name": "  ",
		"total":       nil,
		"currency":    "RWF",
	}

	got := Flatten(raw)

	if _, ok := got[models.FieldPartiesIssuer]; ok {
		t.Error("blank issuer should be absent, not empty")
	}
	if _, ok := got[models.FieldAmountsTotal]; ok {
		t.Error("nil total should be absent")
	}
	if got[models.FieldAmountsCurrency] != "RWF" {
		t.Errorf("currency lost: %#v", got)
	}
}

func TestMergeFirstValueWins(t *testing.T) {
	page1 := models.Fields{
		models.FieldPartiesIssuer: "Acme Ltd",
		models.ExtraFieldPrefix + "line_items": []interface{}{"a"},
	}
	page2 := models.Fields{
		models.FieldPartiesIssuer: "ACME LIMITED",
		models.FieldAmountsTotal:  250.0,
		models.ExtraFieldPrefix + "line_items": []interface{}{"b", "c"},
	}

	merged := Merge(page1.Clone(), page2)

	if merged[models.FieldPartiesIssuer] != "Acme Ltd" {
		t.Errorf("first page value should win: %#v", merged)
	}
	if merged[models.FieldAmountsTotal] != 250.0 {
		t.Errorf("missing value should be filled from later page: %#v", merged)
	}
	items := merged[models.ExtraFieldPrefix+"line_items"].([]interface{})
	if len(items) != 3 {
		t.Errorf("line items should concatenate, got %v", items)
	}
}

func TestNestRoundTrip(t *testing.T) {
	flat := models.Fields{
		models.FieldDocumentType:    "receipt",
		models.FieldPartiesIssuer:   "Corner Cafe",
		models.FieldAmountsTotal:    15.8,
		models.FieldAmountsCurrency: "EUR",
		models.FieldDatesIssue:      "2024-12-01",
		models.ExtraFieldPrefix + "payment_method": "card",
	}

	nested := Nest(flat)
	back := Flatten(nested)

	if !reflect.DeepEqual(back, flat) {
		t.Fatalf("round trip changed fields:\n got %#v\nwant %#v", back, flat)
	}
}
