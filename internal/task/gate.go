package task

import (
	"context"
	"sync"
)

// Gate is the pause signal a running computation polls at its suspension
// points. Open means run; closed means block in Wait until reopened.
type Gate struct {
	mu   sync.Mutex
	open chan struct{}
}

func NewGate() *Gate {
	g := &Gate{}
	g.Open()
	return g
}

// Open lets waiters through. Idempotent.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open == nil {
		g.open = make(chan struct{})
		close(g.open)
		return
	}
	select {
	case <-g.open:
		// already open
	default:
		close(g.open)
	}
}

// Close makes subsequent Wait calls block. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
		// already closed
	}
}

// Wait blocks while the gate is closed. Returns the context error if ctx is
// cancelled first, so cancellation can take effect at any suspension point.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()
	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
