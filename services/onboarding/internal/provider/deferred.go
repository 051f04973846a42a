// Package provider holds the units of work behind each onboarding step:
// registration, face analysis, document storage, SMS dispatch and account
// issuing. Step code awaits them through Deferred so that a simulated
// implementation can be swapped for a real one without touching the step.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Deferred is the pending result of a unit of work started by Async.
type Deferred[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Async runs fn in its own goroutine. A panic inside fn is reported as the
// result error instead of crashing the process.
func Async[T any](ctx context.Context, fn func(context.Context) (T, error)) *Deferred[T] {
	d := &Deferred[T]{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		defer func() {
			if r := recover(); r != nil {
				d.err = fmt.Errorf("unit of work panicked: %v", r)
			}
		}()
		d.val, d.err = fn(ctx)
	}()
	return d
}

// Await blocks until the work finishes or ctx is done, whichever is first.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.val, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the work has finished.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
