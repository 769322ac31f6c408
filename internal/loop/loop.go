// Package loop provides the single execution context on which change
// notifications and search results are delivered. Tasks run one at a time in
// the order they were posted.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by Do when the loop is no longer running.
var ErrStopped = errors.New("loop stopped")

type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes posted tasks until ctx is cancelled. Tasks still queued when ctx
// ends are dropped. Run must be called exactly once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			l.run(task)
		}
	}
}

// Post queues fn without blocking. It is safe to call from inside a task. It
// reports false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. Because tasks run in
// order, every task posted before Do has completed when it returns. Do must
// not be called from inside a task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The task may have run right before shutdown.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r)
		}
	}()
	task()
}
