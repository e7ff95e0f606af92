package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/messages"

	"golang.org/x/sync/semaphore"
)

// Pool runs handler bodies off the connection read loops. At most Size
// tasks run at once; further submissions wait for a slot in FIFO order.
// Submitting never blocks the caller.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	log  logging.Logger

	running atomic.Int64
	pending atomic.Int64

	// mu orders wg.Add in Submit against Close, so no Add races Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// ErrPoolClosed is the result of tasks submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// NewPool creates a pool running at most size tasks at once. A size of
// zero or less means runtime.GOMAXPROCS(0).
func NewPool(size int, log logging.Logger) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size, log: log}
}

// Task is a handle to one submitted unit of work.
type Task struct {
	id   uint64
	name string
	done chan struct{}
	err  error
}

// ID returns the request id the task was submitted for.
func (t *Task) ID() uint64 { return t.id }

// Name returns the command name the task was submitted for.
func (t *Task) Name() string { return t.name }

// Done is closed when the task has finished or was abandoned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Finished reports whether the task is complete without blocking.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the task result. It is only meaningful once Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task is done or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit schedules fn and returns its handle immediately. If ctx ends
// before a slot frees up, fn never runs and the task fails with ctx.Err().
// After Close the task is returned already failed with ErrPoolClosed.
func (p *Pool) Submit(ctx context.Context, id uint64, name string, fn func() error) *Task {
	t := &Task{id: id, name: name, done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.err = ErrPoolClosed
		close(t.done)
		return t
	}
	p.wg.Add(1)
	p.mu.Unlock()
	p.pending.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(t.done)

		err := p.sem.Acquire(ctx, 1)
		p.pending.Add(-1)
		if err != nil {
			t.err = err
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)
		t.err = callSafely(p.log, name, fn)
	}()
	return t
}

// Close stops the pool from accepting tasks. Tasks already submitted keep
// running; use Wait to drain them.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Size returns the maximum number of concurrently running tasks.
func (p *Pool) Size() int { return p.size }

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Pending returns the number of tasks waiting for a slot.
func (p *Pool) Pending() int { return int(p.pending.Load()) }

// Wait blocks until every submitted task is done or ctx ends. Call Close
// first when submissions may still arrive.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callSafely runs fn, turning a panic into a TaskError.
func callSafely(log logging.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "name", name, "panic", r, "stack", string(debug.Stack()))
			err = &messages.TaskError{Name: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}
