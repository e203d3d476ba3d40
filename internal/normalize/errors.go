package normalize

import "fmt"

// ErrorCode classifies a normalization failure.
type ErrorCode string

const MissingRequiredField ErrorCode = "missing_required_field"

// Error is a record-level normalization failure. It is always recoverable
// by skipping the record; the pipeline driver collects these rather than
// aborting.
type Error struct {
	Code  ErrorCode
	Field string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalize: %s: %s", e.Code, e.Field)
	}
	return fmt.Sprintf("normalize: %s", e.Code)
}
