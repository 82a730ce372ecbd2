package policy

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Phone numbers need an international prefix or an area code in
	// parentheses so plain amounts are left alone.
	phonePattern = regexp.MustCompile(`(?:\+\d[\d()\-\s.]{7,}\d|\(\d{2,4}\)\s?\d[\d\-\s.]{5,}\d)`)
	ibanPattern  = regexp.MustCompile(`\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){2,7}(?:\s?[A-Z0-9]{1,4})?\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d{4}[ -]){3}\d{4}\b`)
	taxIDPattern = regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b|\b\d{2}-\d{7}\b`)
)

// MaskPIIString redacts contact details and account identifiers.
func MaskPIIString(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = ibanPattern.ReplaceAllStringFunc(masked, maskAccount)
	masked = cardPattern.ReplaceAllStringFunc(masked, maskAccount)
	masked = taxIDPattern.ReplaceAllString(masked, "[tax_id_redacted]")
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

func MaskPIIJSON(payload json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return append(json.RawMessage(nil), payload...)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return json.RawMessage(MaskPIIString(string(payload)))
	}

	encoded, err := json.Marshal(maskValue(decoded))
	if err != nil {
		return append(json.RawMessage(nil), payload...)
	}
	return encoded
}

func maskValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(typed))
		for key, child := range typed {
			cloned[key] = maskValue(child)
		}
		return cloned
	case []any:
		cloned := make([]any, 0, len(typed))
		for _, child := range typed {
			cloned = append(cloned, maskValue(child))
		}
		return cloned
	case string:
		return MaskPIIString(typed)
	default:
		return value
	}
}

// maskAccount keeps the last four characters of an account identifier.
func maskAccount(value string) string {
	compact := strings.NewReplacer(" ", "", "-", "").Replace(value)
	if len(compact) < 8 {
		return "[account_redacted]"
	}
	return "****" + compact[len(compact)-4:]
}
