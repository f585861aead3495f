// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard wraps RWMutex around a single value.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap replaces and returns the old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Write executes fn while holding the write lock.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Update executes fn under the write lock and reports whether fn changed
// the value. fn must leave the value untouched when it returns false.
func (g *RWGuard[T]) Update(fn func(*T) bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// Transition moves the value from old to next as one step, returning the
// value seen before the attempt and whether the move happened.
func Transition[T comparable](g *RWGuard[T], allowed func(from, to T) bool, next T) (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.value
	if !allowed(prev, next) {
		return prev, false
	}
	g.value = next
	return prev, true
}
