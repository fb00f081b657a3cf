package confidence

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/nkurunziza/docextract/internal/models"
)

// Scoring weights. Required fields dominate the mean; absent required fields
// cost far more than shape problems in present ones.
const (
	requiredWeight     = 2.0
	optionalWeight     = 1.0
	missingPenaltyRate = 0.5
	typePenaltyRate    = 0.15
)

// Breakdown is the scored view of one strategy result.
type Breakdown struct {
	Overall         float64
	WeightedMean    float64
	MissingRequired []string
	TypeFailures    []string
}

// Score computes the overall confidence for a field map given the per-field
// confidences a strategy reported and the required-field set of the detected
// document type:
//
//	overall = weightedMean(present fields; required ×2)
//	        - 0.5  × (missing required / total required)
//	        - 0.15 × (type failures / checked present fields)
//
// clipped to [0,1]. Pure and strategy-agnostic: with every required field
// present and well typed, overall equals the weighted mean.
func Score(fields models.Fields, conf map[string]float64, required []string) Breakdown {
	requiredSet := make(map[string]bool, len(required))
	for _, k := range required {
		requiredSet[k] = true
	}

	var b Breakdown

	var weightSum, confSum float64
	for key, c := range conf {
		if _, present := fields[key]; !present {
			continue
		}
		w := optionalWeight
		if requiredSet[key] {
			w = requiredWeight
		}
		weightSum += w
		confSum += w * clip(c)
	}
	if weightSum > 0 {
		b.WeightedMean = confSum / weightSum
	}

	for _, key := range required {
		if _, present := fields[key]; !present {
			b.MissingRequired = append(b.MissingRequired, key)
		}
	}

	checked := 0
	for key, val := range fields {
		ok, applies := checkType(key, val)
		if !applies {
			continue
		}
		checked++
		if !ok {
			b.TypeFailures = append(b.TypeFailures, key)
		}
	}

	overall := b.WeightedMean
	if len(required) > 0 {
		overall -= missingPenaltyRate * float64(len(b.MissingRequired)) / float64(len(required))
	}
	if checked > 0 {
		overall -= typePenaltyRate * float64(len(b.TypeFailures)) / float64(checked)
	}
	b.Overall = clip(overall)
	return b
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// checkType runs the light shape check for canonical keys. The second return
// reports whether a check applies to the key at all; free-form
// extracted_fields values are never checked.
func checkType(key string, val interface{}) (ok bool, applies bool) {
	switch key {
	case models.FieldAmountsTotal, models.FieldAmountsSubtotal, models.FieldAmountsTax:
		return isAmount(val), true
	case models.FieldAmountsCurrency:
		return isCurrencyCode(val), true
	case models.FieldDatesIssue, models.FieldDatesDue:
		return isDate(val), true
	case models.FieldPartiesIssuer, models.FieldPartiesRecipient:
		s, isStr := val.(string)
		return isStr && strings.TrimSpace(s) != "", true
	case models.FieldDocumentType:
		_, isStr := val.(string)
		return isStr, true
	}
	return true, false
}

func isAmount(val interface{}) bool {
	switch v := val.(type) {
	case float64, float32, int, int64:
		return true
	case string:
		// Tolerate currency symbols, codes and thousand separators.
		cleaned := strings.Map(func(r rune) rune {
			switch {
			case unicode.IsDigit(r), r == '.', r == '-':
				return r
			case r == ',', r == ' ', unicode.IsLetter(r), unicode.IsSymbol(r):
				return -1
			}
			return r
		}, v)
		if cleaned == "" {
			return false
		}
		_, err := strconv.ParseFloat(cleaned, 64)
		return err == nil
	}
	return false
}

func isCurrencyCode(val interface{}) bool {
	s, isStr := val.(string)
	if !isStr {
		return false
	}
	s = strings.TrimSpace(s)
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	time.RFC3339,
}

func isDate(val interface{}) bool {
	s, isStr := val.(string)
	if !isStr {
		return false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
