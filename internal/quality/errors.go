package quality

import (
	"errors"
	"fmt"
)

var ErrRejected = errors.New("llm output rejected")

type ErrorKind string

const (
	KindTransport      ErrorKind = "transport_error"
	KindInvalidJSON    ErrorKind = "invalid_json"
	KindMissingSection ErrorKind = "llm_missing_section"
)

// ValidationError is the typed failure surfaced by the controller. Raw holds
// the offending model output for diagnostics.
type ValidationError struct {
	Kind     ErrorKind
	Section  string
	Detail   string
	Raw      string
	Attempts int
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrRejected
}

// KindOf returns the error kind, or "" when err is not a *ValidationError.
func KindOf(err error) ErrorKind {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Kind
	}
	return ""
}
