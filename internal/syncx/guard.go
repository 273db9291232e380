// Package syncx provides lock-scoped state holders for lifecycle machines.
package syncx

import "sync"

// RWGuard wraps RWMutex around a value with scoped lock helpers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// TryUpdate executes fn under the write lock and returns its result. fn
// reports whether it changed the value.
func (g *RWGuard[T]) TryUpdate(fn func(*T) bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Transition moves g from one state to another. It reports false, leaving
// g untouched, when g is not in from.
func Transition[T comparable](g *RWGuard[T], from, to T) bool {
	return g.TryUpdate(func(v *T) bool {
		if *v != from {
			return false
		}
		*v = to
		return true
	})
}
