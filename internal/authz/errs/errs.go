// Package errs defines the sentinel error taxonomy shared across the
// authorization engine. Every package in internal/authz wraps these with
// fmt.Errorf("...: %w", ErrX) rather than minting ad-hoc error strings, so
// callers can discriminate outcomes with errors.Is.
package errs

import "errors"

// IsStorageError reports whether err wraps ErrStorageFailure or
// ErrStorageTimeout — the two outcomes check.Service's strict mode
// converts into a deny decision instead of bubbling to the caller.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageFailure) || errors.Is(err, ErrStorageTimeout)
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrFeatureDisabled    = errors.New("feature_disabled")
	ErrNotConfigured      = errors.New("not_configured")
	ErrNotFound           = errors.New("not_found")
	ErrExpired            = errors.New("expired")
	ErrSingleUseViolation = errors.New("single_use_violation")
	ErrReuseDetected      = errors.New("reuse_detected")
	ErrStorageFailure     = errors.New("storage_failure")
	ErrStorageTimeout     = errors.New("storage_timeout")
	ErrInternal           = errors.New("internal_error")
)
