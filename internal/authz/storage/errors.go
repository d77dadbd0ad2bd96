package storage

import (
	"context"
	"errors"

	"github.com/authrim-io/authrim/internal/authz/errs"
)

// ErrWrap classifies a low-level driver error as errs.ErrStorageTimeout
// when it stems from context deadline/cancellation, and errs.ErrStorageFailure
// otherwise. Callers wrap the original error text alongside it so logs keep
// the driver detail while errors.Is checks stay stable across backends.
func ErrWrap(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrStorageTimeout
	}
	return errs.ErrStorageFailure
}
