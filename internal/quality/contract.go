package quality

import (
	"fmt"

	"github.com/iago/treasury-bizcase-back/internal/domain"
)

// Contract describes the shape an LLM payload must have to be accepted.
type Contract struct {
	Name string
	// Required top-level keys; each must hold a mapping.
	Required []string
	// Unwrap lists wrapper keys whose mapping is lifted one level when the
	// top level lacks a required key.
	Unwrap   []string
	Sanitize bool
}

func BusinessCaseContract() Contract {
	return Contract{
		Name:     "business_case",
		Required: append([]string(nil), domain.BusinessCaseSections...),
		Unwrap:   []string{"analysis", "report_data"},
		Sanitize: true,
	}
}

// Validate checks a decoded value against the contract and returns the
// accepted mapping.
func (c Contract) Validate(decoded any) (map[string]any, error) {
	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ValidationError{
			Kind:   KindInvalidJSON,
			Detail: fmt.Sprintf("expected a JSON object, got %s", describeType(decoded)),
		}
	}

	payload = c.unwrap(payload)
	for _, key := range c.Required {
		section, exists := payload[key]
		if !exists {
			return nil, &ValidationError{Kind: KindMissingSection, Section: key, Detail: "missing section " + key}
		}
		if _, ok := section.(map[string]any); !ok {
			return nil, &ValidationError{
				Kind:    KindMissingSection,
				Section: key,
				Detail:  fmt.Sprintf("section %s must be an object, got %s", key, describeType(section)),
			}
		}
	}

	if c.Sanitize {
		payload, _ = SanitizeValue(payload).(map[string]any)
	}
	return payload, nil
}

func (c Contract) unwrap(payload map[string]any) map[string]any {
	if c.hasAllRequired(payload) {
		return payload
	}
	for _, key := range c.Unwrap {
		if inner, ok := payload[key].(map[string]any); ok {
			return inner
		}
	}
	return payload
}

func (c Contract) hasAllRequired(payload map[string]any) bool {
	for _, key := range c.Required {
		if _, ok := payload[key]; !ok {
			return false
		}
	}
	return true
}

func describeType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", value)
	}
}
