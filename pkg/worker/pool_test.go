package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360/streamfan/errors"
)

type testJob struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPoolDefaults(t *testing.T) {
	processor := func(context.Context, testJob) error { return nil }

	pool, err := NewPool(5, 100, processor)
	if err != nil {
		t.Fatalf("NewPool returned error: %v", err)
	}
	if pool.workers != 5 {
		t.Errorf("expected 5 workers, got %d", pool.workers)
	}
	if pool.queueSize != 100 {
		t.Errorf("expected queue size 100, got %d", pool.queueSize)
	}

	pool, err = NewPool(0, 0, processor)
	if err != nil {
		t.Fatalf("NewPool returned error: %v", err)
	}
	if pool.workers != 25 {
		t.Errorf("expected default 25 workers, got %d", pool.workers)
	}
	if pool.queueSize != 1000 {
		t.Errorf("expected default queue size 1000, got %d", pool.queueSize)
	}
}

func TestNewPoolNilProcessor(t *testing.T) {
	_, err := NewPool[testJob](5, 100, nil)
	if err == nil {
		t.Fatal("expected error for nil processor")
	}
	if !errors.IsInvalid(err) {
		t.Errorf("expected invalid classification, got %v", err)
	}
}

func TestPoolLifecycle(t *testing.T) {
	var processed int64
	processor := func(_ context.Context, _ testJob) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}

	pool, err := NewPool(2, 10, processor)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	// Submit before Start is rejected
	if err := pool.Submit(testJob{id: 1}); err != errors.ErrPoolNotStarted {
		t.Errorf("expected ErrPoolNotStarted, got %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Start(context.Background()); err != errors.ErrPoolAlreadyStarted {
		t.Errorf("expected ErrPoolAlreadyStarted, got %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := pool.Submit(testJob{id: i}); err != nil {
			t.Errorf("Submit %d: %v", i, err)
		}
	}

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := atomic.LoadInt64(&processed); got != 5 {
		t.Errorf("expected 5 processed jobs, got %d", got)
	}

	if err := pool.Submit(testJob{id: 99}); err != errors.ErrPoolStopped {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}

// Stop must let already-enqueued jobs finish: this is what makes the
// shutdown flush synchronous.
func TestPoolStopDrainsQueue(t *testing.T) {
	var processed int64
	processor := func(_ context.Context, job testJob) error {
		time.Sleep(job.delay)
		atomic.AddInt64(&processed, 1)
		return nil
	}

	pool, err := NewPool(1, 10, processor)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := pool.Submit(testJob{id: i, delay: 20 * time.Millisecond}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := atomic.LoadInt64(&processed); got != 4 {
		t.Errorf("expected all 4 queued jobs processed before Stop returned, got %d", got)
	}
}

func TestPoolQueueFull(t *testing.T) {
	block := make(chan struct{})
	processor := func(_ context.Context, _ testJob) error {
		<-block
		return nil
	}

	pool, err := NewPool(1, 1, processor)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First job occupies the worker, second fills the queue; eventually a
	// submit must be rejected without blocking.
	var sawFull bool
	for i := 0; i < 3; i++ {
		if err := pool.Submit(testJob{id: i}); err == errors.ErrQueueFull {
			sawFull = true
		}
	}
	if !sawFull {
		t.Error("expected ErrQueueFull once worker and queue were busy")
	}

	close(block)
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := pool.Stats()
	if stats.Dropped == 0 {
		t.Error("expected dropped counter to record the rejected job")
	}
}

func TestPoolFailedJobsCounted(t *testing.T) {
	processor := func(_ context.Context, job testJob) error {
		if job.fail {
			return errors.ErrSendFailed
		}
		return nil
	}

	pool, err := NewPool(2, 10, processor)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pool.Submit(testJob{id: 1, fail: true})
	pool.Submit(testJob{id: 2})
	pool.Submit(testJob{id: 3, fail: true})

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := pool.Stats()
	if stats.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", stats.Processed)
	}
	if stats.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", stats.Failed)
	}
}
