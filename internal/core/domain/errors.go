package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAuthentication      = errors.New("authentication failed")
	ErrAccessDenied        = errors.New("access denied")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrValidation          = errors.New("validation failed")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrUpstreamTimeout     = errors.New("upstream timed out")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
)

var (
	ErrInvalidCredentials   = fmt.Errorf("invalid credentials: %w", ErrAuthentication)
	ErrRoomNotFound         = fmt.Errorf("room %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrRoomExists           = fmt.Errorf("room already exists: %w", ErrPermissionDenied)
	ErrUserExists           = fmt.Errorf("user already exists: %w", ErrConflict)
	ErrDefaultRoomProtected = fmt.Errorf("default room cannot be deleted: %w", ErrPermissionDenied)
)

// Stable wire codes returned to clients in REST and WebSocket errors.
const (
	CodeAuthentication      = "authentication_error"
	CodeAccessDenied        = "access_denied"
	CodePermissionDenied    = "permission_denied"
	CodeValidation          = "validation_error"
	CodeRateLimited         = "rate_limited"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeInternal            = "internal_error"
)

// RateLimitError is returned when a token bucket is empty.
type RateLimitError struct {
	Channel    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry in %s", e.Channel, e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Validationf builds an ErrValidation with a client-safe detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Code classifies err into one of the stable wire codes.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUpstreamTimeout):
		return CodeUpstreamTimeout
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}
