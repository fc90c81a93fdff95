// -----------------------------------------------------------------------
// Validation - structured constraint violations per domain variant
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError names one violated constraint on one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates the violations of one record. It is the
// invalid-state failure surfaced to callers.
type ValidationError struct {
	Entity string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(msgs, "; "))
}

// CheckValid converts a Validate() result into an error, nil when clean.
func CheckValid(entity string, fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Entity: entity, Fields: fields}
}

// Invalid builds a single-violation ValidationError.
func Invalid(entity, field, message string) error {
	return &ValidationError{Entity: entity, Fields: []FieldError{{Field: field, Message: message}}}
}

// IsInvalidState reports whether err is a ValidationError.
func IsInvalidState(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func requireNonEmpty(errs []FieldError, field, value string) []FieldError {
	if strings.TrimSpace(value) == "" {
		errs = append(errs, FieldError{Field: field, Message: "must not be empty"})
	}
	return errs
}

func requireID(errs []FieldError, field string, id ID) []FieldError {
	if id.IsZero() {
		errs = append(errs, FieldError{Field: field, Message: "must be set"})
	}
	return errs
}
