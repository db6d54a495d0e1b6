package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/pkg/patterns/circuitbreaker"
)

// RecordRepositoryCircuitBreaker adds a circuit breaker to a RecordRepository.
// It uses multiple type-safe breakers to avoid runtime type assertions; each
// breaker only counts backend failures, never rejected requests.
type RecordRepositoryCircuitBreaker struct {
	repo          domain.RecordRepository
	appendBreaker *circuitbreaker.Breaker[domain.AuditRecord]
	headBreaker   *circuitbreaker.Breaker[*domain.AuditRecord]
	listBreaker   *circuitbreaker.Breaker[[]domain.AuditRecord]
	countBreaker  *circuitbreaker.Breaker[int]
}

// NewRecordRepositoryCircuitBreaker wraps repo.
func NewRecordRepositoryCircuitBreaker(repo domain.RecordRepository, maxFailures int, resetTimeout time.Duration, logger *slog.Logger) *RecordRepositoryCircuitBreaker {
	opts := func(name string) []circuitbreaker.Option {
		return []circuitbreaker.Option{
			circuitbreaker.WithFailurePredicate(countsAsFailure),
			circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
				logger.Warn("ledger circuit breaker state changed",
					"operation", name, "from", from.String(), "to", to.String())
			}),
		}
	}

	return &RecordRepositoryCircuitBreaker{
		repo:          repo,
		appendBreaker: circuitbreaker.New[domain.AuditRecord](maxFailures, resetTimeout, opts("append")...),
		headBreaker:   circuitbreaker.New[*domain.AuditRecord](maxFailures, resetTimeout, opts("head")...),
		listBreaker:   circuitbreaker.New[[]domain.AuditRecord](maxFailures, resetTimeout, opts("list")...),
		countBreaker:  circuitbreaker.New[int](maxFailures, resetTimeout, opts("count")...),
	}
}

func (cb *RecordRepositoryCircuitBreaker) Append(ctx context.Context, seal domain.SealFunc) (domain.AuditRecord, error) {
	return cb.appendBreaker.Execute(ctx, func(ctx context.Context) (domain.AuditRecord, error) {
		return cb.repo.Append(ctx, seal)
	})
}

func (cb *RecordRepositoryCircuitBreaker) Head(ctx context.Context) (*domain.AuditRecord, error) {
	return cb.headBreaker.Execute(ctx, func(ctx context.Context) (*domain.AuditRecord, error) {
		return cb.repo.Head(ctx)
	})
}

func (cb *RecordRepositoryCircuitBreaker) List(ctx context.Context, fromSequence uint64, limit int) ([]domain.AuditRecord, error) {
	return cb.listBreaker.Execute(ctx, func(ctx context.Context) ([]domain.AuditRecord, error) {
		return cb.repo.List(ctx, fromSequence, limit)
	})
}

func (cb *RecordRepositoryCircuitBreaker) All(ctx context.Context) ([]domain.AuditRecord, error) {
	return cb.listBreaker.Execute(ctx, func(ctx context.Context) ([]domain.AuditRecord, error) {
		return cb.repo.All(ctx)
	})
}

func (cb *RecordRepositoryCircuitBreaker) Count(ctx context.Context) (int, error) {
	return cb.countBreaker.Execute(ctx, func(ctx context.Context) (int, error) {
		return cb.repo.Count(ctx)
	})
}
