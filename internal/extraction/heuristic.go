package extraction

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// Heuristic confidences sit strictly below anything a model-based strategy
// can produce, keeping the last-resort ranking honest.
const (
	heuristicFieldConfidence = 0.55
	heuristicTypeConfidence  = 0.50
)

var (
	totalPattern = regexp.MustCompile(`(?i)(?:grand\s+total|total\s+paid|amount\s+due|balance\s+due|total)\s*[:\-]?\s*(?:[A-Z]{3}\s*|[$€£]\s*)?([0-9][0-9.,]*[0-9]|[0-9])`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`),
		regexp.MustCompile(`\b(\d{1,2}-\d{1,2}-\d{4})\b`),
		regexp.MustCompile(`(?i)\b((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{4})\b`),
	}

	currencyCodePattern = regexp.MustCompile(`\b(USD|EUR|GBP|RWF|KES|TZS|UGX|NGN|ZAR|JPY|CNY|INR|CAD|AUD|CHF)\b`)

	currencySymbols = map[string]string{
		"$": "USD",
		"€": "EUR",
		"£": "GBP",
		"¥": "JPY",
	}
)

// HeuristicStrategy is the deterministic last resort: regex and keyword
// matching over acquired text for a fixed set of common fields. Fields it
// cannot match are left absent, never guessed.
type HeuristicStrategy struct {
	logger logger.Logger
}

var _ Strategy = (*HeuristicStrategy)(nil)

func NewHeuristicStrategy(log logger.Logger) *HeuristicStrategy {
	return &HeuristicStrategy{logger: log}
}

func (s *HeuristicStrategy) Name() string { return models.MethodHeuristic }

func (s *HeuristicStrategy) Extract(ctx context.Context, in *Input) (*Candidate, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, &InputError{Message: "no acquired text for heuristic extraction"}
	}

	docType := guessDocumentType(in.Text)
	fields := models.Fields{
		models.FieldDocumentType: string(docType),
	}
	conf := map[string]float64{
		models.FieldDocumentType: heuristicTypeConfidence,
	}

	if total, ok := matchTotal(in.Text); ok {
		fields[models.FieldAmountsTotal] = total
		conf[models.FieldAmountsTotal] = heuristicFieldConfidence
	}
	if date, ok := matchDate(in.Text); ok {
		fields[models.FieldDatesIssue] = date
		conf[models.FieldDatesIssue] = heuristicFieldConfidence
	}
	if currency, ok := matchCurrency(in.Text); ok {
		fields[models.FieldAmountsCurrency] = currency
		conf[models.FieldAmountsCurrency] = heuristicFieldConfidence
	}
	if issuer, ok := matchIssuer(in.Text); ok {
		fields[models.FieldPartiesIssuer] = issuer
		conf[models.FieldPartiesIssuer] = heuristicFieldConfidence
	}

	s.logger.Info("heuristic extraction matched",
		logger.String("documentId", in.DocumentID),
		logger.String("documentType", string(docType)),
		logger.Int("fields", len(fields)),
	)

	return &Candidate{
		Fields:          fields,
		FieldConfidence: conf,
		DocumentType:    docType,
	}, nil
}

func matchTotal(text string) (float64, bool) {
	m := totalPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	cleaned := strings.ReplaceAll(m[1], ",", "")
	total, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

func matchDate(text string) (string, bool) {
	for _, pattern := range datePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func matchCurrency(text string) (string, bool) {
	if m := currencyCodePattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	for symbol, code := range currencySymbols {
		if strings.Contains(text, symbol) {
			return code, true
		}
	}
	return "", false
}

// matchIssuer takes the first line that reads like a business name: mostly
// letters, no document keywords, no amounts.
func matchIssuer(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for _, line := range lines[:min(8, len(lines))] {
		line = strings.TrimSpace(line)
		if line == "" || len(line) < 3 || len(line) > 60 {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "invoice") || strings.Contains(lower, "receipt") ||
			strings.Contains(lower, "total") || strings.Contains(lower, "date") {
			continue
		}
		letters := 0
		digits := 0
		for _, r := range line {
			switch {
			case unicode.IsLetter(r):
				letters++
			case unicode.IsDigit(r):
				digits++
			}
		}
		if letters >= 3 && digits <= letters {
			return line, true
		}
	}
	return "", false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
