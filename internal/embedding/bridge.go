package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned by Bridge.Run when a task outlives its deadline.
var ErrTimeout = errors.New("embedding task timed out")

// Task is a blocking call to a remote embedding service.
type Task func(ctx context.Context) ([]float32, error)

// Bridge runs remote embedding tasks on a bounded set of workers and blocks
// the caller until a result, a timeout or the caller's cancellation.
//
// Every task gets its own context derived from the caller's, cancelled as
// soon as Run returns. Tasks must not call Run themselves: a slot waiting
// for another slot is the deadlock the bound exists to rule out.
type Bridge struct {
	slots   *semaphore.Weighted
	timeout time.Duration
}

// NewBridge creates a bridge with the given number of workers and per-task
// timeout. Non-positive values fall back to 4 workers and 5 seconds.
func NewBridge(workers int, timeout time.Duration) *Bridge {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{
		slots:   semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
	}
}

// Timeout returns the per-task deadline.
func (b *Bridge) Timeout() time.Duration {
	return b.timeout
}

type taskResult struct {
	vec []float32
	err error
}

// Run executes task and waits for it. The worker slot is held until the
// task goroutine itself returns, so abandoned tasks still count against the
// bound.
func (b *Bridge) Run(ctx context.Context, task Task) ([]float32, error) {
	taskCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.slots.Acquire(taskCtx, 1); err != nil {
		return nil, b.classify(ctx, err)
	}

	done := make(chan taskResult, 1)
	go func() {
		defer b.slots.Release(1)
		vec, err := task(taskCtx)
		done <- taskResult{vec: vec, err: err}
	}()

	select {
	case res := <-done:
		return res.vec, res.err
	case <-taskCtx.Done():
		return nil, b.classify(ctx, taskCtx.Err())
	}
}

func (b *Bridge) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, b.timeout)
	}
	return err
}
