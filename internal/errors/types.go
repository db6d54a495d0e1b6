package errors

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrEncoding       = errors.New("entry is not canonically serializable")
	ErrConflict       = errors.New("ledger conflict")
	ErrKeyUnavailable = errors.New("signing key not available")
	ErrStorage        = errors.New("ledger storage failure")
	ErrRateLimit      = errors.New("rate limit exceeded")
	ErrExternal       = errors.New("external service error")
)
