package txexec

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many transaction submissions run at once. The
// production gate has capacity 1: wallets are shared and concurrent
// submissions from one process race on nonces.
type Gate interface {
	// Do runs fn while holding a slot. The slot is released on every
	// exit path, including panic.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type semGate struct {
	sem *semaphore.Weighted
}

// NewSerialGate returns the capacity-1 gate used in production.
func NewSerialGate() Gate {
	return NewGate(1)
}

// NewGate returns a gate with n slots. Tests use wider gates to
// exercise overlap.
func NewGate(n int64) Gate {
	return &semGate{sem: semaphore.NewWeighted(n)}
}

func (g *semGate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

// NopGate runs fn immediately with no bound. Test use only.
type NopGate struct{}

func (NopGate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
