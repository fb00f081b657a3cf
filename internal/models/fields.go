package models

import (
	"time"
)

// Canonical field keys. Strategies emit nested provider JSON; the core
// flattens it onto these dotted keys so scoring and storage see one shape
// regardless of which strategy produced the result. Free-form values keep
// their own names under the "extracted_fields." prefix.
const (
	FieldDocumentType    = "document_type"
	FieldPartiesIssuer   = "parties.issuer"
	FieldPartiesRecipient = "parties.recipient"
	FieldAmountsCurrency = "amounts.currency"
	FieldAmountsSubtotal = "amounts.subtotal"
	FieldAmountsTax      = "amounts.tax"
	FieldAmountsTotal    = "amounts.total"
	FieldDatesIssue      = "dates.issue_date"
	FieldDatesDue        = "dates.due_date"

	ExtraFieldPrefix = "extracted_fields."
)

// Fields is the canonical flat field map of one extraction result.
type Fields map[string]interface{}

// Clone returns a shallow copy of the field map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// requiredByType lists the canonical fields a document type must provide for
// a full-confidence result. FieldDocumentType is required for every type.
var requiredByType = map[DocumentType][]string{
	DocTypeInvoice: {
		FieldDocumentType,
		FieldPartiesIssuer,
		FieldAmountsTotal,
		FieldAmountsCurrency,
		FieldDatesIssue,
	},
	DocTypeReceipt: {
		FieldDocumentType,
		FieldPartiesIssuer,
		FieldAmountsTotal,
		FieldAmountsCurrency,
		FieldDatesIssue,
	},
	DocTypeContract: {
		FieldDocumentType,
		FieldPartiesIssuer,
		FieldPartiesRecipient,
		FieldDatesIssue,
	},
	DocTypeOther: {
		FieldDocumentType,
	},
}

// RequiredFields returns the required canonical fields for a document type.
// Unknown types fall back to the DocTypeOther set.
func RequiredFields(t DocumentType) []string {
	req, ok := requiredByType[t]
	if !ok {
		req = requiredByType[DocTypeOther]
	}
	out := make([]string, len(req))
	copy(out, req)
	return out
}

// ExtractedData is the structured result of one completed extraction job.
// Created exactly once, atomically with the job's COMPLETED transition, and
// immutable thereafter; a re-extraction creates a new job and a new record.
type ExtractedData struct {
	ID                string             `json:"id"`
	JobID             string             `json:"job_id"`
	DocumentID        string             `json:"document_id"`
	Fields            Fields             `json:"fields"`
	FieldConfidence   map[string]float64 `json:"field_confidence"`
	OverallConfidence float64            `json:"overall_confidence"`
	ExtractionMethod  string             `json:"extraction_method"`
	CreatedAt         time.Time          `json:"created_at"`
}
