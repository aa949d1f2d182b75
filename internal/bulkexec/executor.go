// Package bulkexec implements the Bulk Operation Executor (C9, §4.9): it
// partitions a sequence of write operations into fixed-size batches and
// dispatches up to the rate controller's current parallelism at once,
// feeding batch outcomes back into the controller. Grounded on
// planexec.ParallelPartition's bounded worker-goroutine idiom (WaitGroup +
// semaphore), generalized here from a row-producer fan-in into a
// write-batch fan-out with retry and a semaphore whose capacity tracks the
// controller's live parallelism instead of a fixed buffered channel.
package bulkexec

import (
	"context"
	"sync"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/ratectl"
	"github.com/ppds-sdk/sqlengine/internal/remote"
)

const (
	defaultBatchSize = 100
	minBatchSize     = 1
	maxBatchSize     = 1000
)

// Options tunes batching.
type Options struct {
	BatchSize int // default 100, clamped to [1, 1000]
}

func (o Options) batchSize() int {
	switch {
	case o.BatchSize <= 0:
		return defaultBatchSize
	case o.BatchSize < minBatchSize:
		return minBatchSize
	case o.BatchSize > maxBatchSize:
		return maxBatchSize
	default:
		return o.BatchSize
	}
}

// Dispatch sends one batch over the wire. Returning a *remote.ThrottledError
// (directly, not wrapped) tells Run to back off and retry the same batch.
type Dispatch[T any] func(ctx context.Context, batch []T) (*remote.BulkResult, error)

// Run partitions items into Options-sized batches and dispatches them
// concurrently, re-reading controller.GetParallelism() before each
// dispatch so RecordSuccess/RecordThrottle-driven AIMD adjustments made
// earlier in this same run actually change how many batches are in flight
// (§4.9 "before each batch, reads get_parallelism()"). controller may be
// nil, in which case batches run with a fixed parallelism of 1 and no rate
// feedback — used for callers (tests, dry runs) that don't carry a live
// connection.
func Run[T any](ctx context.Context, items []T, controller *ratectl.Controller, opts Options, dispatch Dispatch[T]) (*remote.BulkResult, error) {
	batches := partition(items, opts.batchSize())
	if len(batches) == 0 {
		return &remote.BulkResult{}, nil
	}

	sem := newDynamicSem(func() int {
		if controller == nil {
			return 1
		}
		if p := controller.GetParallelism(); p >= 1 {
			return p
		}
		return 1
	})

	var (
		mu       sync.Mutex
		merged   remote.BulkResult
		firstErr error
		wg       sync.WaitGroup
	)

	for _, batch := range batches {
		if ctx.Err() != nil {
			firstErr = ctx.Err()
			break
		}
		if controller != nil {
			for controller.IsThrottled(time.Now()) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
			}
		}

		if err := sem.acquire(ctx); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(batch []T) {
			defer wg.Done()
			defer sem.release()
			runBatch(ctx, batch, controller, dispatch, &mu, &merged, &firstErr)
		}(batch)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return &merged, nil
}

// dynamicSem is a counting semaphore whose capacity is re-evaluated on
// every acquire instead of fixed at construction, so a live AIMD
// adjustment to the rate controller's target parallelism takes effect on
// the very next batch rather than only on the next Run call.
type dynamicSem struct {
	mu    sync.Mutex
	inUse int
	limit func() int
}

func newDynamicSem(limit func() int) *dynamicSem {
	return &dynamicSem{limit: limit}
}

func (s *dynamicSem) acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inUse < s.limit() {
			s.inUse++
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *dynamicSem) release() {
	s.mu.Lock()
	s.inUse--
	s.mu.Unlock()
}

// runBatch dispatches one batch, retrying on a throttle response until it
// succeeds, fails for another reason, or ctx is cancelled. Cancellation is
// never retried (§4.9 "Never retries a cancellation").
func runBatch[T any](ctx context.Context, batch []T, controller *ratectl.Controller, dispatch Dispatch[T], mu *sync.Mutex, merged *remote.BulkResult, firstErr *error) {
	for {
		if ctx.Err() != nil {
			mu.Lock()
			if *firstErr == nil {
				*firstErr = ctx.Err()
			}
			mu.Unlock()
			return
		}

		start := time.Now()
		result, err := dispatch(ctx, batch)
		duration := time.Since(start)

		if throttled, ok := err.(*remote.ThrottledError); ok {
			if controller != nil {
				controller.RecordThrottle(time.Now(), throttled.RetryAfter)
			}
			if throttled.RetryAfter > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(throttled.RetryAfter):
				}
			}
			continue // retry the same batch
		}

		if controller != nil {
			controller.RecordBatchDuration(duration)
		}

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if *firstErr == nil {
				*firstErr = err
			}
			return
		}
		if controller != nil {
			controller.RecordSuccess()
		}
		merged.SuccessCount += result.SuccessCount
		merged.FailureCount += result.FailureCount
		merged.Errors = append(merged.Errors, result.Errors...)
		return
	}
}

func partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
