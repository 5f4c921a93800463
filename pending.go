package session

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Pending is the outcome of a command started with Start.
//
// The command keeps running even when the caller that started it goes away,
// so a stale result can be dropped without cancelling provider work.
type Pending[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// Start runs fn in its own goroutine. ctx values are kept but its
// cancellation is not propagated.
func Start[T any](ctx context.Context, fn func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				p.resolve(zero, goerrors.New("pending operation panicked", goerrors.CategoryInternal).
					WithMetadata(map[string]any{"panic": r}))
			}
		}()
		value, err := fn(runCtx)
		p.resolve(value, err)
	}()

	return p
}

// Resolved returns an already settled operation.
func Resolved[T any](value T, err error) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	p.resolve(value, err)
	return p
}

// Done is closed once the operation settled.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation settles or ctx is done. A done ctx only
// stops the wait.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context done while waiting for pending operation")
	}
}

// Result returns the outcome without blocking. ok is false while running.
func (p *Pending[T]) Result() (value T, ok bool, err error) {
	select {
	case <-p.done:
		return p.value, true, p.err
	default:
		var zero T
		return zero, false, nil
	}
}

func (p *Pending[T]) resolve(value T, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.done)
	})
}
