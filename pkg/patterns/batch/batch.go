package batch

import (
	"context"
	"sync"
)

// BatchItem holds the outcome for one request. Items keep the index of the
// request they were produced from.
type BatchItem[TResult any] struct {
	Result TResult
	Error  error
}

// BatchResult contains one item per request, in request order.
type BatchResult[TResult any] struct {
	Items []BatchItem[TResult]
}

// FirstError returns the error of the lowest-index failed item, if any.
func (r *BatchResult[TResult]) FirstError() error {
	for _, item := range r.Items {
		if item.Error != nil {
			return item.Error
		}
	}
	return nil
}

// BatchProcessor runs Process over a slice of requests with at most
// MaxConcurrency requests in flight. Validate is optional.
type BatchProcessor[TRequest, TResult any] struct {
	MaxConcurrency int
	Validate       func(TRequest) error
	Process        func(context.Context, TRequest) (TResult, error)
}

// ProcessBatch processes every request and returns the results in request
// order. With continueOnError false, requests not yet started when the first
// failure is observed are skipped and reported with the context error.
func (bp *BatchProcessor[TRequest, TResult]) ProcessBatch(
	ctx context.Context,
	requests []TRequest,
	continueOnError bool,
) (*BatchResult[TResult], error) {
	limit := bp.MaxConcurrency
	if limit < 1 {
		limit = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]BatchItem[TResult], len(requests))
	semaphore := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, req := range requests {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			results[i] = BatchItem[TResult]{Error: ctx.Err()}
			continue
		}

		wg.Add(1)
		go func(index int, request TRequest) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if bp.Validate != nil {
				if err := bp.Validate(request); err != nil {
					results[index] = BatchItem[TResult]{Error: err}
					if !continueOnError {
						cancel()
					}
					return
				}
			}

			result, err := bp.Process(ctx, request)
			results[index] = BatchItem[TResult]{Result: result, Error: err}
			if err != nil && !continueOnError {
				cancel()
			}
		}(i, req)
	}

	wg.Wait()
	return &BatchResult[TResult]{Items: results}, nil
}
