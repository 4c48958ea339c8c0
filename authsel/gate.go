package authsel

import (
	"context"
	"sync"
)

type gateState int

const (
	gatePending gateState = iota
	gateResolving
	gateDone
	gateCanceled
)

func (s gateState) String() string {
	switch s {
	case gatePending:
		return "pending"
	case gateResolving:
		return "resolving"
	case gateDone:
		return "done"
	case gateCanceled:
		return "canceled"
	}
	return "unknown"
}

// gate is a resolve-once cell. Identity writes happen inside resolve, before
// the channel closes, so a reader that returns from wait without error sees
// the final values.
type gate struct {
	mu    sync.Mutex
	state gateState
	ch    chan struct{}
}

func newGate(done bool) *gate {
	g := &gate{ch: make(chan struct{})}
	if done {
		g.state = gateDone
		close(g.ch)
	}
	return g
}

func (g *gate) current() gateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// begin moves a pending gate to resolving.
func (g *gate) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != gatePending {
		return false
	}
	g.state = gateResolving
	return true
}

// resolve applies fn and releases every waiter.
func (g *gate) resolve(fn func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case gateDone:
		return ErrAlreadyResolved
	case gateCanceled:
		return ErrCanceled
	}
	if fn != nil {
		fn()
	}
	g.state = gateDone
	close(g.ch)
	return nil
}

// cancel fails a gate that is not yet done. It reports whether the state
// changed.
func (g *gate) cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == gateDone || g.state == gateCanceled {
		return false
	}
	g.state = gateCanceled
	close(g.ch)
	return true
}

// wait blocks until the gate is done or canceled, or ctx ends.
// A gate that has already settled wins over an ended ctx.
func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.ch:
	default:
		select {
		case <-g.ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if g.current() == gateCanceled {
		return ErrCanceled
	}
	return nil
}
