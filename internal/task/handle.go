package task

import (
	"context"
	"sync"
	"time"
)

// Handle is the cancellable computation handle the manager owns for the task
// in flight. The runner derives its context from Context, calls Finish when
// it unwinds; the manager requests cancellation and awaits completion.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewHandle derives a cancellable context from parent for one computation.
func NewHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context is the computation's context; it is cancelled by RequestCancel.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Finish marks the computation complete. Safe to call more than once; the
// first error wins.
func (h *Handle) Finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Err returns the completion error once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Done is closed when the computation has fully unwound.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// RequestCancel signals the computation to stop. Cooperative: the computation
// observes it at its next suspension point.
func (h *Handle) RequestCancel() {
	h.cancel()
}

// AwaitCompletion waits for the computation to unwind, bounded by timeout.
// Returns false when the bound elapsed first.
func (h *Handle) AwaitCompletion(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
