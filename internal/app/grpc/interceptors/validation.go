package interceptors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// RequestSchema lists the top-level fields a method accepts.
type RequestSchema struct {
	Allowed []string
	// OneOf requires exactly one of these fields when non-empty.
	OneOf []string
}

// UnaryValidationInterceptor rejects Struct requests that are oversized,
// carry unknown fields or break a method's one-of rule. Field values are
// checked by the handlers.
func UnaryValidationInterceptor(errorClassifier *app_errors.ErrorClassifier, schemas map[string]RequestSchema, maxRequestBytes int) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		s, ok := req.(*structpb.Struct)
		if !ok {
			return handler(ctx, req)
		}
		if err := validateStruct(s, schemas[info.FullMethod], maxRequestBytes); err != nil {
			return nil, errorClassifier.LogAndSanitize(ctx, errorClassifier.Classify(err, info.FullMethod))
		}
		return handler(ctx, req)
	}
}

func validateStruct(s *structpb.Struct, schema RequestSchema, maxRequestBytes int) error {
	if maxRequestBytes > 0 && proto.Size(s) > maxRequestBytes {
		return fmt.Errorf("%w: request exceeds %d bytes", app_errors.ErrInvalidInput, maxRequestBytes)
	}

	allowed := make(map[string]bool, len(schema.Allowed))
	for _, f := range schema.Allowed {
		allowed[f] = true
	}
	var unknown []string
	for name := range s.GetFields() {
		if !allowed[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown fields: %s", app_errors.ErrInvalidInput, strings.Join(unknown, ", "))
	}

	if len(schema.OneOf) > 0 {
		present := 0
		for _, f := range schema.OneOf {
			if _, ok := s.GetFields()[f]; ok {
				present++
			}
		}
		if present != 1 {
			return fmt.Errorf("%w: exactly one of %s is required", app_errors.ErrInvalidInput, strings.Join(schema.OneOf, ", "))
		}
	}
	return nil
}
