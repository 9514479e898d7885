package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for error classification across the pipeline. Callers wrap
// domain errors with one of these via Wrap and boundaries classify with
// errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrTransient    = errors.New("transient failure")
	ErrRateLimited  = errors.New("rate limited")
	ErrAuth         = errors.New("authentication error")
	ErrNotFound     = errors.New("not found")
	ErrNotSupported = errors.New("not supported by this provider")
	ErrDatabase     = errors.New("database error")
)

// Wrap builds an error message that includes provider/operation context while
// tagging it with the provided marker for later classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, provider, operation, message string, err error) error {
	detail := buildDetail(provider, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a failed job should be scheduled for another
// attempt. Validation, auth, and capability errors never heal on retry.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAuth),
		errors.Is(err, ErrNotSupported):
		return false
	default:
		return true
	}
}

// CountsAsFailure reports whether an error should trip a circuit breaker.
// A 404 is a valid "no result" answer and validation problems are the
// caller's fault, not the provider's health.
func CountsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotSupported):
		return false
	default:
		return true
	}
}

// Kind returns a short string classification used in logs and job history.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	case errors.Is(err, ErrDatabase):
		return "database"
	default:
		return "transient"
	}
}

func buildDetail(provider, operation, message string) string {
	parts := make([]string, 0, 3)
	if provider = strings.TrimSpace(provider); provider != "" {
		parts = append(parts, provider)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
