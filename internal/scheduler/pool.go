package scheduler

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
)

// Pool bounds how many blocking external-process tasks run at once
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with size concurrent slots
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Size returns the number of slots
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Do waits for a free slot and runs fn on a worker goroutine. Waiting for a
// slot honors ctx; once fn has started it runs to completion with a context
// that is never cancelled, and Do returns its result.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker slot: %w", ctx.Err())
	}

	taskCtx := context.WithoutCancel(ctx)
	result := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("task panicked: %v", r)
			}
			metrics.JobsInProgress.Dec()
			<-p.slots
		}()

		metrics.JobsInProgress.Inc()
		result <- fn(taskCtx)
	}()

	return <-result
}
