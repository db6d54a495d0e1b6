package errors

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/spounge-ai/auditchain/pkg/canonical"
	"github.com/spounge-ai/auditchain/pkg/patterns/circuitbreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	ClassValidation
	ClassConflict
	ClassUnavailable
	ClassRateLimit
	ClassExternal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassConflict:
		return "conflict"
	case ClassUnavailable:
		return "unavailable"
	case ClassRateLimit:
		return "rate_limit"
	case ClassExternal:
		return "external"
	default:
		return "internal"
	}
}

type ClassifiedError struct {
	Class         ErrorClass
	InternalError error
	ClientMessage string
	OperationName string
	Metadata      map[string]any
}

type ErrorClassifier struct {
	logger *slog.Logger
}

func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	return &ErrorClassifier{logger: logger}
}

var errorPool = sync.Pool{
	New: func() any {
		return &ClassifiedError{
			Metadata: make(map[string]any, 4),
		}
	},
}

func (ec *ErrorClassifier) Classify(err error, operation string) *ClassifiedError {
	classified := errorPool.Get().(*ClassifiedError)
	classified.InternalError = err
	classified.OperationName = operation

	var encErr *canonical.EncodingError
	switch {
	case errors.As(err, &encErr):
		classified.Class = ClassValidation
		classified.ClientMessage = "The audit entry contains a value that cannot be canonically encoded"
		classified.Metadata["path"] = encErr.Path
	case errors.Is(err, ErrEncoding):
		classified.Class = ClassValidation
		classified.ClientMessage = "The audit entry contains a value that cannot be canonically encoded"
	case errors.Is(err, ErrInvalidInput):
		classified.Class = ClassValidation
		classified.ClientMessage = "The request contains invalid parameters"
	case errors.Is(err, ErrConflict):
		classified.Class = ClassConflict
		classified.ClientMessage = "The ledger is not in a consistent state for this operation"
	case errors.Is(err, ErrKeyUnavailable):
		classified.Class = ClassUnavailable
		classified.ClientMessage = "No signing key is available"
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, ErrStorage):
		classified.Class = ClassUnavailable
		classified.ClientMessage = "The audit ledger is temporarily unavailable"
	case errors.Is(err, ErrRateLimit):
		classified.Class = ClassRateLimit
		classified.ClientMessage = "You have exceeded the rate limit"
	case errors.Is(err, ErrExternal):
		classified.Class = ClassExternal
		classified.ClientMessage = "A dependent service failed. Please try again later"
	case errors.Is(err, context.DeadlineExceeded):
		classified.Class = ClassUnavailable
		classified.ClientMessage = "The operation timed out"
	default:
		classified.Class = ClassInternal
		classified.ClientMessage = "An unexpected internal error occurred"
	}

	return classified
}

// LogAndSanitize logs the full error and returns a gRPC status that carries
// only the client message.
func (ec *ErrorClassifier) LogAndSanitize(ctx context.Context, classified *ClassifiedError) error {
	defer ec.putError(classified)

	ec.logger.ErrorContext(ctx, "operation failed",
		"operation", classified.OperationName,
		"error_class", classified.Class.String(),
		"internal_error", classified.InternalError.Error(),
		"metadata", classified.Metadata,
	)

	return ec.toGRPCError(classified)
}

func (ec *ErrorClassifier) toGRPCError(classified *ClassifiedError) error {
	var code codes.Code

	switch classified.Class {
	case ClassValidation:
		code = codes.InvalidArgument
	case ClassConflict:
		code = codes.FailedPrecondition
	case ClassUnavailable, ClassExternal:
		code = codes.Unavailable
	case ClassRateLimit:
		code = codes.ResourceExhausted
	default:
		code = codes.Internal
	}

	return status.Error(code, classified.ClientMessage)
}

func (ec *ErrorClassifier) putError(err *ClassifiedError) {
	err.InternalError = nil
	for k := range err.Metadata {
		delete(err.Metadata, k)
	}
	err.OperationName = ""
	err.ClientMessage = ""
	errorPool.Put(err)
}
