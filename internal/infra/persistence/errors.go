package persistence

import (
	"context"
	"errors"
	"fmt"

	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/pkg/canonical"
)

// storageError marks a backend failure with ErrStorage. Errors that describe
// the request rather than the backend pass through unchanged.
func storageError(err error) error {
	if err == nil || isRequestError(err) || errors.Is(err, app_errors.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", app_errors.ErrStorage, err)
}

func isRequestError(err error) bool {
	return errors.Is(err, app_errors.ErrConflict) ||
		errors.Is(err, app_errors.ErrInvalidInput) ||
		errors.Is(err, app_errors.ErrEncoding) ||
		errors.Is(err, canonical.ErrNotSerializable) ||
		errors.Is(err, context.Canceled)
}

// countsAsFailure decides which repository errors trip the circuit breaker.
func countsAsFailure(err error) bool {
	return errors.Is(err, app_errors.ErrStorage) || errors.Is(err, context.DeadlineExceeded)
}
