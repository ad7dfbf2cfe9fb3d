package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shinamagazin/shina-audit/pkg/observability"
)

// ErrPoolClosed is returned when submitting to a pool that has been shut down
var ErrPoolClosed = errors.New("worker pool shut down")

// SafeGo executes fn in a goroutine with panic recovery and a timeout.
// Errors and panics are logged with the logger carried by parentCtx.
//
//	SafeGo(ctx, 5*time.Second, "audit write", func(ctx context.Context) error {
//	    return store.Append(ctx, entry)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		logger := observability.FromContext(parentCtx).WithField("task", taskName)
		defer observability.RecoverPanic(logger, "SafeGo")

		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// WorkerPool runs submitted tasks on a fixed number of workers. Tasks queued
// before Shutdown are drained.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	workCh  chan func(context.Context) error
	doneCh  chan struct{}
	errCh   chan error
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool with the given number of workers and a queue
// of twice that size.
//
//	pool := NewWorkerPool(ctx, 4, "audit writer", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	return NewWorkerPoolWithQueue(ctx, workers, workers*2, taskName, timeout)
}

// NewWorkerPoolWithQueue creates a pool with an explicit queue capacity
func NewWorkerPoolWithQueue(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   observability.GetLogger(ctx).WithField("pool", taskName),
		workCh:   make(chan func(context.Context) error, queueSize),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			pool.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task, blocking while the queue is full
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		p.pending.Add(1)
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("%s: %w", p.taskName, p.ctx.Err())
	}
}

// TrySubmit queues a task without blocking. It reports false when the pool is
// closed or the queue is full.
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.workCh <- fn:
		p.pending.Add(1)
		return true
	default:
		return false
	}
}

// Pending returns the number of queued or running tasks
func (p *WorkerPool) Pending() int {
	return int(p.pending.Load())
}

// Shutdown stops accepting work and waits up to timeout for queued tasks to finish
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workCh)
	}
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool %s shutdown timed out after %v with %d tasks pending",
			p.taskName, timeout, p.Pending())
	}
}

// Errors returns a channel that receives task errors
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.report(id, observability.PanicError(r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(id, err)
	}
}

func (p *WorkerPool) report(id int, err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithField("worker", id).WithError(err).Warn("error channel full, dropping error")
	}
}

// Batch processes items concurrently and returns every error encountered
//
//	errs := Batch(ctx, keys, 4, "archive upload", 30*time.Second, func(ctx context.Context, key string) error {
//	    return archiver.Upload(ctx, key)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if err := ctx.Err(); err != nil {
		return []error{err}
	}

	pool := NewWorkerPool(ctx, workers, taskName, timeout)

	var errs []error
	var mu sync.Mutex
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			if err := fn(ctx, item); err != nil {
				collect(err)
			}
			return nil
		}); err != nil {
			collect(err)
			break
		}
	}

	if err := pool.Shutdown(timeout * time.Duration(len(items)+1)); err != nil {
		collect(err)
	}

	mu.Lock()
	defer mu.Unlock()
	return errs
}
