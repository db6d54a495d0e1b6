package postgres

import "errors"

var (
	ErrLockNotAcquired = errors.New("advisory lock not acquired")
	ErrMissingURL      = errors.New("postgres url is empty")
)

// SQLSTATE codes the ledger store reacts to.
const (
	CodeSerializationFailure = "40001"
	CodeUniqueViolation      = "23505"
)
