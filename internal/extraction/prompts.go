package extraction

import (
	"fmt"
	"strings"

	"github.com/nkurunziza/docextract/internal/models"
)

// visionPrompt declares the universal extraction schema to the vision model.
// One prompt per page; page results are merged afterwards.
func visionPrompt(pageNum, totalPages int) string {
	return fmt.Sprintf(`### CONTEXT ###
You are an expert document analyst extracting ALL meaningful information from ANY type of document.
Identify the document type automatically.
This is page %d of %d.

### INSTRUCTION ###
Analyze the provided document image and extract ALL important information in a structured format.

### EXTRACTION RULES ###
1. Identify the document type (invoice, receipt, contract, form, letter, etc.)
2. Extract EXACT values as they appear - do not guess or make up data
3. Dates: YYYY-MM-DD format. Numbers: numeric values without currency symbols. Currency: separate field (USD, EUR, RWF, etc.)
4. Use null for fields not found in the document

### RESPONSE FORMAT ###
Return a JSON object with this structure:
{
  "document_type": "invoice | receipt | contract | other",
  "parties": {
    "issuer": "who issued the document",
    "recipient": "who received it"
  },
  "financial_data": {
    "currency": "currency code or null",
    "subtotal": number or null,
    "tax": number or null,
    "total": number or null,
    "line_items": [{"description": "...", "quantity": 1, "unit_price": 0, "amount": 0}]
  },
  "dates": {
    "issue_date": "YYYY-MM-DD or null",
    "due_date": "YYYY-MM-DD or null"
  },
  "extracted_fields": {
    "field_name": "any other value visible on the document"
  }
}

### IMPORTANT ###
- Extract ONLY what you can see in the image
- Return ONLY valid JSON - no explanations or markdown`, pageNum, totalPages)
}

// textPrompt builds the schema-declaring prompt for text-based extraction,
// specialized by document type where the type is known.
func textPrompt(docType models.DocumentType, text string) string {
	var fields string
	switch docType {
	case models.DocTypeInvoice:
		fields = `- vendor_name (company that issued the invoice)
- customer_name
- invoice_number
- issue_date (YYYY-MM-DD)
- due_date (YYYY-MM-DD, if present)
- subtotal (number)
- tax (number)
- total (number)
- currency (USD, EUR, RWF, ...)
- line_items (array of {description, quantity, unit_price, amount})`
	case models.DocTypeReceipt:
		fields = `- store_name (the exact business name)
- issue_date (YYYY-MM-DD)
- total (the TOTAL amount paid, as a number)
- currency (USD, EUR, RWF, ...)
- payment_method (Cash, Card, Mobile Money, ...)
- line_items (array of {description, amount})`
	case models.DocTypeContract:
		fields = `- title (contract title)
- party_1 (first party name)
- party_2 (second party name)
- issue_date (YYYY-MM-DD)
- due_date (contract end date, YYYY-MM-DD, if present)
- total (contract value as a number, if mentioned)
- currency (if a value is mentioned)`
	default:
		fields = `- document_type (your best classification)
- issuer (who produced the document)
- issue_date (YYYY-MM-DD, if present)
- total (any prominent monetary amount)
- currency (if an amount is present)`
	}

	return fmt.Sprintf(`You are an expert at extracting structured data from documents.
The document is likely a %s.

IMPORTANT RULES:
1. Extract ONLY what you see in the text - never guess or make up values
2. Dates in YYYY-MM-DD format
3. Amounts as plain numbers without currency symbols
4. If you cannot find a field, use null

Extract these fields and return them in a JSON object, together with
"document_type" set to your classification:
%s

Document Text:
%s

CRITICAL: Return ONLY a valid JSON object. No explanations, no markdown, no code blocks.`, docType, fields, text)
}

// Keyword sets for guessing a document type from raw text before the local
// model runs. First match in priority order wins.
var typeKeywords = []struct {
	docType  models.DocumentType
	keywords []string
}{
	{models.DocTypeInvoice, []string{"invoice", "invoice number", "bill to", "amount due"}},
	{models.DocTypeReceipt, []string{"receipt", "cash", "change due", "thank you for shopping", "total paid"}},
	{models.DocTypeContract, []string{"agreement", "contract", "hereinafter", "party of the first part", "terms and conditions"}},
}

func guessDocumentType(text string) models.DocumentType {
	lower := strings.ToLower(text)
	for _, entry := range typeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.docType
			}
		}
	}
	return models.DocTypeOther
}
