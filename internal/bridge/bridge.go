// Package bridge hands events produced on arbitrary goroutines to the one
// goroutine that owns a session, in the order they were posted.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAttached is returned when Run is called on a bridge that already has
// an owner.
var ErrAttached = errors.New("bridge already has an owner")

// Poster is the producer side of a Bridge.
type Poster[T any] interface {
	Post(ev T) bool
}

// Option configures a Bridge.
type Option[T any] func(*Bridge[T])

// WithDropHook is called, outside the lock, for every event Post rejects.
func WithDropHook[T any](fn func(ev T)) Option[T] {
	return func(b *Bridge[T]) { b.onDrop = fn }
}

// WithLogger sets the logger used for drops and delivery panics.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(b *Bridge[T]) { b.log = l }
}

// Bridge is a per-session FIFO. Post never blocks. Events posted before an
// owner calls Run are held and flushed in order once it does; at most
// maxPending are held and beyond that the newest is dropped. Once an owner
// is attached every accepted event is delivered, however far behind the
// owner falls.
type Bridge[T any] struct {
	maxPending int
	onDrop     func(T)
	log        *slog.Logger

	mu       sync.Mutex
	queue    []T
	attached bool
	closed   bool
	wake     chan struct{}
}

// New creates a bridge holding at most maxPending events until an owner
// attaches.
func New[T any](maxPending int, opts ...Option[T]) *Bridge[T] {
	if maxPending <= 0 {
		maxPending = 1
	}
	b := &Bridge[T]{
		maxPending: maxPending,
		log:        slog.Default(),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Post enqueues ev for the owner. It reports false when ev was dropped
// because the bridge is closed, or full with no owner yet.
func (b *Bridge[T]) Post(ev T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.log.Debug("bridge closed, dropping event")
		b.dropped(ev)
		return false
	}
	if !b.attached && len(b.queue) >= b.maxPending {
		b.mu.Unlock()
		b.log.Warn("bridge queue full before owner attached, dropping event", "max_pending", b.maxPending)
		b.dropped(ev)
		return false
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	b.signal()
	return true
}

func (b *Bridge[T]) dropped(ev T) {
	if b.onDrop != nil {
		b.onDrop(ev)
	}
}

func (b *Bridge[T]) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of events not yet delivered.
func (b *Bridge[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Run attaches the calling goroutine as owner and delivers events to
// deliver in FIFO order until Close has been called and the queue is
// drained, or ctx is done. A panic in deliver is logged and the next event
// is delivered.
func (b *Bridge[T]) Run(ctx context.Context, deliver func(T)) error {
	b.mu.Lock()
	if b.attached {
		b.mu.Unlock()
		return ErrAttached
	}
	b.attached = true
	b.mu.Unlock()

	for {
		batch, closed := b.take()
		for _, ev := range batch {
			b.deliverOne(deliver, ev)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-b.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge[T]) take() ([]T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.queue
	b.queue = nil
	return batch, b.closed
}

func (b *Bridge[T]) deliverOne(deliver func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event delivery panicked", "panic", fmt.Sprint(r))
		}
	}()
	deliver(ev)
}

// Close stops accepting events. Run returns after delivering what was
// already queued.
func (b *Bridge[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}
