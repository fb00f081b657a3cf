package confidence

import (
	"math"
	"testing"

	"github.com/nkurunziza/docextract/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func invoiceRequired() []string {
	return models.RequiredFields(models.DocTypeInvoice)
}

func TestScoreWeightedMeanNoPenalties(t *testing.T) {
	fields := models.Fields{
		models.FieldDocumentType:    "invoice",
		models.FieldPartiesIssuer:   "Acme Ltd",
		models.FieldAmountsTotal:    100.0,
		models.FieldAmountsCurrency: "USD",
		models.FieldDatesIssue:      "2024-03-01",
		models.FieldDatesDue:        "2024-03-31",
	}
	conf := map[string]float64{
		models.FieldDocumentType:    0.9,
		models.FieldPartiesIssuer:   0.9,
		models.FieldAmountsTotal:    0.9,
		models.FieldAmountsCurrency: 0.9,
		models.FieldDatesIssue:      0.9,
		models.FieldDatesDue:        0.8,
	}

	b := Score(fields, conf, invoiceRequired())

	// 5 required at weight 2, 1 optional at weight 1.
	want := (5*2*0.9 + 1*0.8) / 11.0
	if !almostEqual(b.Overall, want) {
		t.Fatalf("overall = %v, want %v", b.Overall, want)
	}
	if len(b.MissingRequired) != 0 || len(b.TypeFailures) != 0 {
		t.Fatalf("unexpected penalties: %+v", b)
	}
}

func TestScoreUniformConfidencePassesThrough(t *testing.T) {
	// A complete, well-typed result with uniform per-field confidence must
	// score exactly that confidence (the discounted local-model case relies
	// on this).
	fields := models.Fields{
		models.FieldDocumentType:    "receipt",
		models.FieldPartiesIssuer:   "Corner Cafe",
		models.FieldAmountsTotal:    15.8,
		models.FieldAmountsCurrency: "EUR",
		models.FieldDatesIssue:      "2024-12-01",
	}
	conf := make(map[string]float64, len(fields))
	for k := range fields {
		conf[k] = 0.595
	}

	b := Score(fields, conf, models.RequiredFields(models.DocTypeReceipt))

	if !almostEqual(b.Overall, 0.595) {
		t.Fatalf("overall = %v, want 0.595", b.Overall)
	}
}

func TestScoreMissingRequiredPenalty(t *testing.T) {
	fields := models.Fields{
		models.FieldDocumentType:  "receipt",
		models.FieldPartiesIssuer: "Corner Cafe",
		models.FieldAmountsTotal:  15.8,
	}
	conf := map[string]float64{
		models.FieldDocumentType:  0.9,
		models.FieldPartiesIssuer: 0.9,
		models.FieldAmountsTotal:  0.9,
	}

	required := models.RequiredFields(models.DocTypeReceipt)
	b := Score(fields, conf, required)

	// currency and issue_date absent: 2 of 5 required.
	want := 0.9 - missingPenaltyRate*2.0/5.0
	if !almostEqual(b.Overall, want) {
		t.Fatalf("overall = %v, want %v", b.Overall, want)
	}
	if len(b.MissingRequired) != 2 {
		t.Fatalf("missing = %v", b.MissingRequired)
	}
}

func TestScoreTypeFailurePenalty(t *testing.T) {
	fields := models.Fields{
		models.FieldDocumentType:  "invoice",
		models.FieldPartiesIssuer: "Acme Ltd",
		models.FieldAmountsTotal:  "not a number",
		models.FieldAmountsCurrency: "USD",
		models.FieldDatesIssue:    "2024-03-01",
	}
	conf := map[string]float64{
		models.FieldDocumentType:    0.9,
		models.FieldPartiesIssuer:   0.9,
		models.FieldAmountsTotal:    0.9,
		models.FieldAmountsCurrency: 0.9,
		models.FieldDatesIssue:      0.9,
	}

	b := Score(fields, conf, invoiceRequired())

	if len(b.TypeFailures) != 1 || b.TypeFailures[0] != models.FieldAmountsTotal {
		t.Fatalf("type failures = %v", b.TypeFailures)
	}
	// 5 checked fields, 1 failing.
	want := 0.9 - typePenaltyRate*1.0/5.0
	if !almostEqual(b.Overall, want) {
		t.Fatalf("overall = %v, want %v", b.Overall, want)
	}
}

func TestScoreClipsToZero(t *testing.T) {
	fields := models.Fields{
		models.FieldDocumentType: "invoice",
	}
	conf := map[string]float64{
		models.FieldDocumentType: 0.05,
	}

	b := Score(fields, conf, invoiceRequired())

	if b.Overall != 0 {
		t.Fatalf("overall = %v, want clipped 0", b.Overall)
	}
}

func TestScoreClipsPerFieldAboveOne(t *testing.T) {
	fields := models.Fields{
		models.FieldDocumentType: "other",
	}
	conf := map[string]float64{
		models.FieldDocumentType: 1.7,
	}

	b := Score(fields, conf, models.RequiredFields(models.DocTypeOther))

	if b.Overall != 1 {
		t.Fatalf("overall = %v, want 1", b.Overall)
	}
}

func TestScoreNoConfidences(t *testing.T) {
	b := Score(models.Fields{}, nil, invoiceRequired())
	if b.Overall != 0 {
		t.Fatalf("overall = %v, want 0", b.Overall)
	}
}

func TestAmountFormats(t *testing.T) {
	cases := []struct {
		val interface{}
		ok  bool
	}{
		{44.5, true},
		{"44.50", true},
		{"$1,200.00", true},
		{"RWF 2500", true},
		{"n/a", false},
		{"", false},
		{map[string]interface{}{}, false},
	}
	for _, tc := range cases {
		if got := isAmount(tc.val); got != tc.ok {
			t.Errorf("isAmount(%v) = %v, want %v", tc.val, got, tc.ok)
		}
	}
}

func TestDateFormats(t *testing.T) {
	good := []string{"2024-03-01", "01/03/2024", "Mar 1, 2024", "1 Mar 2024"}
	for _, s := range good {
		if !isDate(s) {
			t.Errorf("isDate(%q) = false, want true", s)
		}
	}
	bad := []string{"yesterday", "2024-13-45", ""}
	for _, s := range bad {
		if isDate(s) {
			t.Errorf("isDate(%q) = true, want false", s)
		}
	}
}
