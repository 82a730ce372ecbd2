package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/policy"
)

var ErrInvalidInput = errors.New("invalid business case input")

var knownInputFields = inputFieldNames()

func inputFieldNames() map[string]struct{} {
	names := make(map[string]struct{})
	kind := reflect.TypeOf(domain.BusinessCaseInput{})
	for index := 0; index < kind.NumField(); index++ {
		tag := kind.Field(index).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			names[name] = struct{}{}
		}
	}
	return names
}

// PrepareInput decodes the submission, applies the content policy to its
// text fields and masks PII. The masked payload is what gets queued and sent
// to the model.
func PrepareInput(raw json.RawMessage) (json.RawMessage, domain.BusinessCaseInput, error) {
	submitted, err := DecodeInput(raw)
	if err != nil {
		return nil, domain.BusinessCaseInput{}, err
	}
	if err := policy.CheckInput(submitted); err != nil {
		return nil, domain.BusinessCaseInput{}, err
	}
	masked := policy.MaskPIIJSON(raw)
	input, err := DecodeInput(masked)
	if err != nil {
		return nil, domain.BusinessCaseInput{}, err
	}
	return masked, input, nil
}

// DecodeInput decodes and validates a submission. Top-level fields that are
// not part of the input schema are kept in Extra.
func DecodeInput(raw json.RawMessage) (domain.BusinessCaseInput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return domain.BusinessCaseInput{}, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}

	var input domain.BusinessCaseInput
	if err := json.Unmarshal(trimmed, &input); err != nil {
		return domain.BusinessCaseInput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return domain.BusinessCaseInput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for key, value := range fields {
		if _, known := knownInputFields[key]; known {
			continue
		}
		if input.Extra == nil {
			input.Extra = make(map[string]any)
		}
		if _, exists := input.Extra[key]; !exists {
			input.Extra[key] = value
		}
	}

	if err := validateInput(input); err != nil {
		return domain.BusinessCaseInput{}, err
	}
	return input, nil
}

func validateInput(input domain.BusinessCaseInput) error {
	if strings.TrimSpace(input.CompanyName) == "" {
		return fmt.Errorf("%w: company_name is required", ErrInvalidInput)
	}
	if input.AnnualRevenue < 0 {
		return fmt.Errorf("%w: annual_revenue must not be negative", ErrInvalidInput)
	}
	if input.TreasuryStaff < 0 || input.BankAccounts < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidInput)
	}
	return nil
}
