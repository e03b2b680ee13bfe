// Package common defines the error taxonomy and small helpers shared by the
// identity service layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorRateLimited  = errors.New("rate limited")

	// Input errors.
	ErrorValidation = errors.New("validation error")
	ErrorConflict   = errors.New("conflict")

	// Credential errors. A rejected code is a business outcome, not a failure.
	ErrorInvalidOrExpiredCode = errors.New("invalid or expired code")

	// Account reconciliation errors.
	ErrorMergeFailed = errors.New("account unification failed")
)

// ValidationError carries per-field messages for malformed input.
// It matches ErrorValidation via errors.Is.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(kv ...string) *ValidationError {
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrorValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrorValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrorValidation
}

// RateLimitError reports how long the caller should wait before retrying.
// It matches ErrorRateLimited via errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return ErrorRateLimited.Error() + ": retry after " + e.RetryAfter.Round(time.Second).String()
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrorRateLimited
}
