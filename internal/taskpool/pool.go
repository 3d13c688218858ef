// Package taskpool runs functions concurrently under a fixed ceiling on the
// number in flight, with completion tracking, a join that callers cannot
// interrupt, and a forced close.
package taskpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// ErrClosed is returned by Submit and Join once the pool has been closed.
var ErrClosed = errors.New("taskpool: pool is closed")

// Func is the unit of work executed by the pool.
type Func func(ctx context.Context) error

// Option configures a Pool.
type Option func(*Pool)

// WithProgress registers a callback invoked exactly once as each task
// finishes, whatever the outcome.
func WithProgress(fn func()) Option {
	return func(p *Pool) {
		p.progress = fn
	}
}

// WithPropagateErrors makes Join return the first task failure recorded
// since the previous Join.
func WithPropagateErrors() Option {
	return func(p *Pool) {
		p.propagate = true
	}
}

// Task is a handle to a submitted function.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Done is closed once the task has finished and its slot has been released.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's failure. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Pool bounds the number of concurrently running tasks.
type Pool struct {
	size      int
	sem       *semaphore.Weighted
	progress  func()
	propagate bool

	mu       sync.Mutex
	tasks    map[*Task]struct{}
	closed   bool
	firstErr error
}

// New creates a Pool that runs at most size tasks at once. size < 1 is
// treated as 1.
func New(size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:  size,
		sem:   semaphore.NewWeighted(int64(size)),
		tasks: make(map[*Task]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the concurrency ceiling.
func (p *Pool) Size() int {
	return p.size
}

// InFlight reports how many tasks are currently tracked.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Submit waits for a free slot and starts fn in its own goroutine. Canceling
// ctx aborts the wait for a slot but does not reach a started task: fn sees a
// context that keeps ctx's values and is canceled only by Close.
func (p *Pool) Submit(ctx context.Context, fn Func) (*Task, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire task slot: %w", err)
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &Task{done: make(chan struct{}), cancel: cancel}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		p.sem.Release(1)
		return nil, ErrClosed
	}
	p.tasks[task] = struct{}{}
	p.mu.Unlock()

	metrics.IncInFlight()
	go p.run(taskCtx, task, fn)
	return task, nil
}

func (p *Pool) run(ctx context.Context, task *Task, fn Func) {
	defer p.finish(task)
	defer func() {
		if r := recover(); r != nil {
			task.err = fmt.Errorf("task panic: %v", r)
		}
	}()
	task.err = fn(ctx)
}

// finish releases the slot and reports progress before Done fires, so a
// waiter woken by Done always observes the released slot.
func (p *Pool) finish(task *Task) {
	task.cancel()

	p.mu.Lock()
	delete(p.tasks, task)
	if task.err != nil && p.propagate && !p.closed && p.firstErr == nil {
		p.firstErr = task.err
	}
	p.mu.Unlock()

	p.sem.Release(1)
	metrics.DecInFlight()
	if p.progress != nil {
		p.progress()
	}
	close(task.done)
}

// Join waits for every task tracked at the time of the call. It cannot be
// interrupted. With WithPropagateErrors it returns the first failure
// recorded since the previous Join; otherwise nil.
func (p *Pool) Join() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	pending := p.snapshotLocked()
	p.mu.Unlock()

	for _, task := range pending {
		<-task.done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.firstErr
	p.firstErr = nil
	return err
}

// Close cancels every tracked task, waits for all of them, and marks the
// pool closed. Task failures are discarded. Calling Close again is a no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pending := p.snapshotLocked()
	p.mu.Unlock()

	for _, task := range pending {
		task.cancel()
	}
	for _, task := range pending {
		<-task.done
	}

	p.mu.Lock()
	clear(p.tasks)
	p.firstErr = nil
	p.mu.Unlock()
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) snapshotLocked() []*Task {
	out := make([]*Task, 0, len(p.tasks))
	for task := range p.tasks {
		out = append(out, task)
	}
	return out
}
