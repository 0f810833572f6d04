package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound              = errors.New("not_found")
	ErrConflict              = errors.New("conflict")
	ErrTransient             = errors.New("transient")
	ErrValidation            = errors.New("validation")
	ErrPermissionDenied      = errors.New("permission_denied")
	ErrTimeout               = errors.New("timeout")
	ErrShutdown              = errors.New("shutdown")
	ErrPolicyViolation       = errors.New("policy_violation")
	ErrFatal                 = errors.New("fatal")
	ErrNotConfigured         = errors.New("not_configured")
	ErrIDAllocationExhausted = fmt.Errorf("id allocation exhausted: %w", ErrFatal)
	ErrAlreadyApplied        = fmt.Errorf("delta already applied: %w", ErrConflict)
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// Invalid is shorthand for a single-field validation error.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

var kinds = []error{
	ErrNotFound,
	ErrConflict,
	ErrTransient,
	ErrValidation,
	ErrPermissionDenied,
	ErrTimeout,
	ErrShutdown,
	ErrPolicyViolation,
	ErrNotConfigured,
	ErrFatal,
}

// KindOf returns the taxonomy code of err, "fatal" when it matches none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ErrFatal.Error()
}
