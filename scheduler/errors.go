package scheduler

import (
	"errors"
	"fmt"
)

// ValidationError reports a rejected submit or control request. The HTTP
// layer maps it to 400.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// IsValidation reports whether the error is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ForbiddenError reports an operation on a job owned by another principal.
// The HTTP layer maps it to 403.
type ForbiddenError struct {
	JobID     string
	Principal string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("job %s is not owned by %s", e.JobID, e.Principal)
}

// IsForbidden reports whether the error is an ownership violation.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
