package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = fmt.Errorf("worker pool shut down")

// ErrQueueFull is returned by TrySubmit when every queue slot is taken.
var ErrQueueFull = fmt.Errorf("worker pool queue full")

// SafeGo executes fn in a goroutine with a timeout and panic recovery.
// Errors are logged, never returned.
//
//	SafeGo(ctx, 10*time.Second, "notify owners", func(ctx context.Context) error {
//	    return notifier.ImportFinished(ctx, task)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logrus.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of goroutines. Each task
// gets its own timeout derived from the pool context.
type WorkerPool struct {
	workers   int
	taskName  string
	timeout   time.Duration
	workCh    chan func(context.Context) error
	doneCh    chan struct{}
	errCh     chan error
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewWorkerPool creates a pool with a queue of queueSize pending tasks
// (workers*2 when queueSize <= 0).
//
//	pool := NewWorkerPool(ctx, 4, 256, "imports", 10*time.Minute)
//	defer pool.Shutdown(30 * time.Second)
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, queueSize),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn, blocking while the queue is full.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues fn without blocking.
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth reports tasks waiting for a worker.
func (p *WorkerPool) QueueDepth() int {
	return len(p.workCh)
}

// Shutdown stops accepting tasks and waits up to timeout for queued and
// running tasks to finish, then cancels whatever is still running.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})
	return shutdownErr
}

// Errors returns a channel that receives task errors. Errors are dropped
// when nobody drains it.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		logrus.WithError(err).WithField("pool", p.taskName).Warn("error channel full, dropping error")
	}
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"pool":   p.taskName,
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("panic in worker")
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

// Batch runs fn over items with at most workers in flight and returns every
// error encountered. One failing item does not cancel the others.
//
//	errs := Batch(ctx, repoIDs, 8, 30*time.Second, func(ctx context.Context, id int64) error {
//	    return indexer.ReindexRepository(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, item := range items {
		item := item
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return fn(tctx, item)
		})
	}
	_ = g.Wait()
	return errs
}
