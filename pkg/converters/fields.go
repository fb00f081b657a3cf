package converters

import (
	"strings"

	"github.com/nkurunziza/docextract/internal/models"
)

// Providers answer with nested JSON whose key names drift by model and by
// document type (vendor_name vs merchant_name vs issuer, total vs
// total_amount, ...). Flatten folds any of those shapes onto the canonical
// dotted keys so scoring and storage always see one layout; Nest rebuilds the
// nested document for API responses.

// canonicalAliases maps lowercased provider keys onto canonical field keys.
// Group-qualified entries ("financial_data.total") take precedence over bare
// ones ("total").
var canonicalAliases = map[string]string{
	"document_type": models.FieldDocumentType,
	"doc_type":      models.FieldDocumentType,

	"parties.issuer":    models.FieldPartiesIssuer,
	"issuer":            models.FieldPartiesIssuer,
	"vendor_name":       models.FieldPartiesIssuer,
	"merchant_name":     models.FieldPartiesIssuer,
	"store_name":        models.FieldPartiesIssuer,
	"seller":            models.FieldPartiesIssuer,
	"company_name":      models.FieldPartiesIssuer,
	"party_1":           models.FieldPartiesIssuer,
	"parties.recipient": models.FieldPartiesRecipient,
	"recipient":         models.FieldPartiesRecipient,
	"customer_name":     models.FieldPartiesRecipient,
	"client_name":       models.FieldPartiesRecipient,
	"buyer":             models.FieldPartiesRecipient,
	"party_2":           models.FieldPartiesRecipient,

	"financial_data.currency": models.FieldAmountsCurrency,
	"amounts.currency":        models.FieldAmountsCurrency,
	"currency":                models.FieldAmountsCurrency,
	"financial_data.subtotal": models.FieldAmountsSubtotal,
	"amounts.subtotal":        models.FieldAmountsSubtotal,
	"subtotal":                models.FieldAmountsSubtotal,
	"financial_data.tax":      models.FieldAmountsTax,
	"amounts.tax":             models.FieldAmountsTax,
	"tax_amount":              models.FieldAmountsTax,
	"tax":                     models.FieldAmountsTax,
	"financial_data.total":    models.FieldAmountsTotal,
	"amounts.total":           models.FieldAmountsTotal,
	"total_amount":            models.FieldAmountsTotal,
	"total":                   models.FieldAmountsTotal,
	"grand_total":             models.FieldAmountsTotal,
	"amount_due":              models.FieldAmountsTotal,

	"dates.issue_date": models.FieldDatesIssue,
	"issue_date":       models.FieldDatesIssue,
	"invoice_date":     models.FieldDatesIssue,
	"transaction_date": models.FieldDatesIssue,
	"start_date":       models.FieldDatesIssue,
	"date":             models.FieldDatesIssue,
	"dates.due_date":   models.FieldDatesDue,
	"due_date":         models.FieldDatesDue,
	"end_date":         models.FieldDatesDue,
	"expiry_date":      models.FieldDatesDue,
}

// groupKeys are nested containers whose entries are resolved with the group
// prefix first.
var groupKeys = map[string]bool{
	"parties":          true,
	"amounts":          true,
	"financial_data":   true,
	"dates":            true,
	"extracted_fields": true,
	"metadata":         true,
}

// Flatten converts parsed provider JSON into the canonical flat field map.
// The first non-empty value seen for a canonical key wins; unrecognized
// scalar, list and map values are kept under the extracted_fields prefix so
// nothing a strategy produced is silently dropped.
func Flatten(raw map[string]interface{}) models.Fields {
	out := models.Fields{}
	for key, val := range raw {
		lk := strings.ToLower(strings.TrimSpace(key))
		group, isGroup := val.(map[string]interface{})
		if groupKeys[lk] && isGroup {
			passthrough := lk == "extracted_fields" || lk == "metadata"
			for gk, gv := range group {
				lgk := strings.ToLower(strings.TrimSpace(gk))
				if canonical, ok := canonicalAliases[lk+"."+lgk]; ok {
					emit(out, canonical, gv)
				} else if canonical, ok := canonicalAliases[lgk]; ok && !passthrough {
					emit(out, canonical, gv)
				} else {
					emit(out, models.ExtraFieldPrefix+lgk, gv)
				}
			}
			continue
		}
		if canonical, ok := canonicalAliases[lk]; ok {
			emit(out, canonical, val)
			continue
		}
		emit(out, models.ExtraFieldPrefix+lk, val)
	}
	return out
}

func emit(out models.Fields, key string, val interface{}) {
	if isEmpty(val) {
		return
	}
	if _, exists := out[key]; exists {
		return
	}
	out[key] = val
}

func isEmpty(val interface{}) bool {
	switch v := val.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

// Merge folds src into dst: scalars keep the first non-empty value, list
// values under extracted_fields are concatenated. Used to combine per-page
// results of multi-page documents.
func Merge(dst, src models.Fields) models.Fields {
	if dst == nil {
		dst = models.Fields{}
	}
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		if strings.HasPrefix(k, models.ExtraFieldPrefix) {
			el, lok := existing.([]interface{})
			vl, vok := v.([]interface{})
			if lok && vok {
				dst[k] = append(el, vl...)
			}
		}
	}
	return dst
}

// Nest rebuilds the nested document shape from a canonical flat map. Inverse
// of Flatten up to alias folding.
func Nest(f models.Fields) map[string]interface{} {
	doc := map[string]interface{}{}
	parties := map[string]interface{}{}
	amounts := map[string]interface{}{}
	dates := map[string]interface{}{}
	extra := map[string]interface{}{}

	for k, v := range f {
		switch {
		case k == models.FieldDocumentType:
			doc["document_type"] = v
		case strings.HasPrefix(k, "parties."):
			parties[strings.TrimPrefix(k, "parties.")] = v
		case strings.HasPrefix(k, "amounts."):
			amounts[strings.TrimPrefix(k, "amounts.")] = v
		case strings.HasPrefix(k, "dates."):
			dates[strings.TrimPrefix(k, "dates.")] = v
		case strings.HasPrefix(k, models.ExtraFieldPrefix):
			extra[strings.TrimPrefix(k, models.ExtraFieldPrefix)] = v
		default:
			extra[k] = v
		}
	}

	if len(parties) > 0 {
		doc["parties"] = parties
	}
	if len(amounts) > 0 {
		doc["amounts"] = amounts
	}
	if len(dates) > 0 {
		doc["dates"] = dates
	}
	if len(extra) > 0 {
		doc["extracted_fields"] = extra
	}
	return doc
}
