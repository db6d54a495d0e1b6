package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spounge-ai/auditchain/internal/app/grpc/interceptors"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/ratelimit"
	"github.com/spounge-ai/auditchain/internal/service"
	"github.com/spounge-ai/auditchain/pkg/patterns/lifecycle"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	maxRequestBytes = 16 << 20

	limiterIdle  = 10 * time.Minute
	limiterSweep = time.Minute
)

var _ lifecycle.ManagedResource = (*Server)(nil)

type Server struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
	lis        net.Listener
	logger     *slog.Logger
	limiter    *ratelimit.InMemoryRateLimiter

	// statusMu orders health writes against the close of done.
	statusMu  sync.Mutex
	serving   atomic.Bool
	serveErr  chan error
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type Option func(*serverOptions)

type serverOptions struct {
	listener  net.Listener
	tlsConfig *tls.Config
}

// WithListener serves on lis instead of listening on the configured port.
func WithListener(lis net.Listener) Option {
	return func(o *serverOptions) { o.listener = lis }
}

// WithTLSConfig serves TLS. A nil config leaves the server in plaintext.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *serverOptions) { o.tlsConfig = cfg }
}

// New builds the gRPC server and binds its listener. It returns the bound port,
// which differs from the configured one when that is 0.
func New(
	cfg *config.Config,
	trail service.AuditTrail,
	logger *slog.Logger,
	errorClassifier *app_errors.ErrorClassifier,
	opts ...Option,
) (*Server, int, error) {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	lis := o.listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to listen: %w", err)
		}
	}
	port := 0
	if addr, ok := lis.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}

	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.MaxRecvMsgSize(maxRequestBytes),
	}
	if o.tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(o.tlsConfig)))
	} else if cfg.IsProduction() {
		logger.Warn("gRPC server is running without TLS in production")
	}

	chain := []grpc.UnaryServerInterceptor{
		interceptors.UnaryIdentityInterceptor(),
		interceptors.UnaryLoggingInterceptor(logger),
	}
	var limiter *ratelimit.InMemoryRateLimiter
	if rl := cfg.Server.RateLimiter; rl.Enabled {
		limiter = ratelimit.NewInMemoryRateLimiter(rate.Limit(rl.Rate), rl.Burst)
		chain = append(chain, interceptors.UnaryRateLimitInterceptor(limiter, errorClassifier))
	}
	chain = append(chain, interceptors.UnaryValidationInterceptor(errorClassifier, requestSchemas, maxRequestBytes))
	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(chain...))

	grpcServer := grpc.NewServer(serverOpts...)
	RegisterAuditTrailServiceServer(grpcServer, newAuditTrailServer(trail, errorClassifier, logger))

	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		healthSrv:  healthSrv,
		lis:        lis,
		logger:     logger,
		limiter:    limiter,
		serveErr:   make(chan error, 1),
		done:       make(chan struct{}),
	}, port, nil
}

// Start serves in the background. Serve failures are reported on Errors.
func (s *Server) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.logger.InfoContext(ctx, "gRPC server listening", "address", s.lis.Addr().String())
		s.SetServing(true)

		go func() {
			if err := s.grpcServer.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.serveErr <- err
			}
		}()
		if s.limiter != nil {
			go s.sweepLimiter()
		}
	})
	return nil
}

// Errors delivers at most one fatal Serve error.
func (s *Server) Errors() <-chan error {
	return s.serveErr
}

// Stop drains in-flight calls, forcing the shutdown once ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.logger.InfoContext(ctx, "Stopping gRPC server...")
		s.statusMu.Lock()
		close(s.done)
		s.setStatus(false)
		s.statusMu.Unlock()

		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "graceful stop timed out, closing connections")
			s.grpcServer.Stop()
			<-stopped
		}
		s.logger.InfoContext(ctx, "gRPC server stopped.")
	})
	return nil
}

func (s *Server) Health(_ context.Context) lifecycle.HealthStatus {
	if !s.serving.Load() {
		return lifecycle.HealthStatus{Message: "not serving"}
	}
	return lifecycle.HealthStatus{Ready: true}
}

// SetServing flips the health status reported for the audit trail service.
// The ledger connection monitor drives it while the server runs.
// Once Stop has begun it always reports NOT_SERVING.
func (s *Server) SetServing(serving bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	select {
	case <-s.done:
		serving = false
	default:
	}
	s.setStatus(serving)
}

func (s *Server) setStatus(serving bool) {
	s.serving.Store(serving)
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.healthSrv.SetServingStatus(ServiceName, status)
	s.healthSrv.SetServingStatus("", status)
}

func (s *Server) sweepLimiter() {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.limiter.Forget(limiterIdle); n > 0 {
				s.logger.Debug("dropped idle rate limit buckets", "count", n, "tracked", s.limiter.Tracked())
			}
		}
	}
}
