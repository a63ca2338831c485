package schema

import (
	"fmt"
	"strings"
)

// SchemaError represents a schema-related error
type SchemaError struct {
	Message string
	Code    string
	Errors  []ValidationError
	Err     error
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// NewSchemaError creates a new schema error
func NewSchemaError(message, code string, err error) *SchemaError {
	return &SchemaError{
		Message: message,
		Code:    code,
		Err:     err,
	}
}

// ValidationFailedError creates a validation error listing every failure
func ValidationFailedError(errors []ValidationError) *SchemaError {
	parts := make([]string, len(errors))
	for i, e := range errors {
		parts[i] = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return &SchemaError{
		Message: fmt.Sprintf("validation failed with %d errors: %s", len(errors), strings.Join(parts, "; ")),
		Code:    "VALIDATION_FAILED",
		Errors:  errors,
	}
}
