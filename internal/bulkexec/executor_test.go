package bulkexec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/ratectl"
	"github.com/ppds-sdk/sqlengine/internal/remote"
)

func TestRunPartitionsIntoConfiguredBatchSize(t *testing.T) {
	items := make([]int, 250)
	var mu sync.Mutex
	var sizes []int

	_, err := Run(context.Background(), items, nil, Options{BatchSize: 100},
		func(ctx context.Context, batch []int) (*remote.BulkResult, error) {
			mu.Lock()
			sizes = append(sizes, len(batch))
			mu.Unlock()
			return &remote.BulkResult{SuccessCount: len(batch)}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 3 {
		t.Fatalf("expected 3 batches for 250 items at size 100, got %d: %v", len(sizes), sizes)
	}
}

func TestRunMergesSuccessAndFailureCounts(t *testing.T) {
	items := make([]int, 10)
	result, err := Run(context.Background(), items, nil, Options{BatchSize: 5},
		func(ctx context.Context, batch []int) (*remote.BulkResult, error) {
			return &remote.BulkResult{SuccessCount: len(batch) - 1, FailureCount: 1}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount != 8 || result.FailureCount != 2 {
		t.Errorf("merged result = %+v, want success=8 failure=2", result)
	}
}

func TestRunRetriesOnThrottleAndSucceeds(t *testing.T) {
	var attempts int32
	items := []int{1, 2, 3}
	result, err := Run(context.Background(), items, nil, Options{BatchSize: 10},
		func(ctx context.Context, batch []int) (*remote.BulkResult, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, &remote.ThrottledError{RetryAfter: time.Millisecond}
			}
			return &remote.BulkResult{SuccessCount: len(batch)}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount != 3 {
		t.Errorf("success count = %d, want 3", result.SuccessCount)
	}
	if attempts != 2 {
		t.Errorf("expected one retry after the throttle response, got %d attempts", attempts)
	}
}

func TestRunRecordsThrottleOnController(t *testing.T) {
	controller := ratectl.New(ratectl.Config{RecommendedDOP: 2, Connections: 1, HardCeiling: 20})
	for i := 0; i < 5; i++ {
		controller.RecordSuccess()
	}
	before := controller.GetParallelism()

	var attempts int32
	_, err := Run(context.Background(), []int{1}, controller, Options{BatchSize: 10},
		func(ctx context.Context, batch []int) (*remote.BulkResult, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, &remote.ThrottledError{RetryAfter: 0}
			}
			return &remote.BulkResult{SuccessCount: len(batch)}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after := controller.GetParallelism(); after >= before {
		t.Errorf("expected the controller's parallelism to drop after a throttle response: before=%d after=%d", before, after)
	}
}

func TestRunDoesNotRetryOnNonThrottleError(t *testing.T) {
	var attempts int32
	boom := errors.New("boom")
	_, err := Run(context.Background(), []int{1}, nil, Options{BatchSize: 10},
		func(ctx context.Context, batch []int) (*remote.BulkResult, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the dispatch error to propagate, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly one attempt for a non-throttle error, got %d", attempts)
	}
}

func TestRunDoesNotRetryOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var attempts int32
	_, err := Run(ctx, []int{1, 2, 3}, nil, Options{BatchSize: 1},
		func(ctx context.Context, batch []int) (*remote.BulkResult, error) {
			atomic.AddInt32(&attempts, 1)
			return &remote.BulkResult{SuccessCount: len(batch)}, nil
		})
	if err == nil {
		t.Fatalf("expected a cancellation error")
	}
	if attempts != 0 {
		t.Errorf("expected no dispatch attempts once the context is already cancelled, got %d", attempts)
	}
}

func TestDynamicSemReEvaluatesLimitPerAcquire(t *testing.T) {
	var limit int32 = 1
	sem := newDynamicSem(func() int { return int(atomic.LoadInt32(&limit)) })

	if err := sem.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := sem.acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the limit is still 1")
	case <-time.After(30 * time.Millisecond):
	}

	atomic.StoreInt32(&limit, 2)

	select {
	case <-acquired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("second acquire should unblock once the limit grows to 2")
	}
}

func TestRunEmptyInputIsANoop(t *testing.T) {
	result, err := Run(context.Background(), []int{}, nil, Options{}, func(ctx context.Context, batch []int) (*remote.BulkResult, error) {
		t.Fatal("dispatch should never be called for an empty item list")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount != 0 || result.FailureCount != 0 {
		t.Errorf("expected a zero-value result, got %+v", result)
	}
}
