// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package runloop serializes work from many goroutines onto one.
//
// Bearer goroutines Post their events; the loop goroutine runs them in
// order. Everything that touches session state runs on the loop, so the
// session tables need no locks.
package runloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrStopped is returned when work is posted to a loop that has stopped.
	ErrStopped = errors.New("run loop stopped")

	// ErrRunning is returned when Run is called on a loop already running.
	ErrRunning = errors.New("run loop already running")
)

// Func is one unit of work. ctx is the context passed to Run.
type Func func(ctx context.Context)

// Loop is a single-goroutine work queue.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []Func
	running bool
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New creates a loop. It does nothing until Run is called.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues f. It never blocks. Work posted before Run starts runs once
// it does.
func (l *Loop) Post(f Func) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs f on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, f func(ctx context.Context) error) error {
	res := make(chan error, 1)
	if err := l.Post(func(lctx context.Context) {
		res <- f(lctx)
	}); err != nil {
		return err
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

// Run executes posted work until ctx is cancelled. Work still queued at
// that point is dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return ErrRunning
	}
	l.running = true
	l.mu.Unlock()

	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			if dropped > 0 {
				l.logger.Warn("run loop stopped with pending work", slog.Int("dropped", dropped))
			}
			return nil
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, f := range batch {
				f(ctx)
			}
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
