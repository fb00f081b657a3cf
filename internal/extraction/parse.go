package extraction

import (
	"encoding/json"
	"strings"
)

// parseModelJSON pulls a JSON object out of a model reply, tolerating
// markdown fences and surrounding prose by scanning for the outermost brace
// pair.
func parseModelJSON(text string) (map[string]interface{}, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// Value-shape confidence tiers, used when the model does not report its own
// confidence: numbers read off a document are most reliable, short strings
// least.
const (
	confNumber      = 0.95
	confLongString  = 0.90
	confCollection  = 0.85
	confOtherScalar = 0.80
)

func confidenceForValue(val interface{}) float64 {
	switch v := val.(type) {
	case float64, int, int64:
		return confNumber
	case string:
		if len(strings.TrimSpace(v)) > 3 {
			return confLongString
		}
		return confOtherScalar
	case []interface{}, map[string]interface{}:
		return confCollection
	case bool:
		return confOtherScalar
	}
	return confOtherScalar
}

// reportedConfidences extracts model-reported per-field confidences from the
// raw reply, when the model volunteered them.
func reportedConfidences(raw map[string]interface{}) map[string]float64 {
	out := map[string]float64{}
	nested, ok := raw["field_confidence"].(map[string]interface{})
	if !ok {
		return out
	}
	for key, val := range nested {
		if c, isNum := val.(float64); isNum && c >= 0 && c <= 1 {
			out[strings.ToLower(strings.TrimSpace(key))] = c
		}
	}
	return out
}
