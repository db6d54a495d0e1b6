package interceptors

import (
	"context"

	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/infra/ratelimit"
	"google.golang.org/grpc"
)

// UnaryRateLimitInterceptor applies one token bucket per peer host. The
// client id header is not used as the key since callers choose it freely.
func UnaryRateLimitInterceptor(limiter ratelimit.Limiter, errorClassifier *app_errors.ErrorClassifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		key := peerHost(ctx)
		if key == "" {
			key = "unknown"
		}
		if !limiter.Allow(key) {
			return nil, errorClassifier.LogAndSanitize(ctx, errorClassifier.Classify(app_errors.ErrRateLimit, info.FullMethod))
		}
		return handler(ctx, req)
	}
}
