// Package heartbeat sends periodic keep-alives on an idle connection.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"
)

// Timer runs one keep-alive loop.
type Timer struct {
	interval time.Duration
	alive    func() bool
	send     func() error
	onTick   func(err error)
	log      *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Timer.
type Option func(*Timer)

// WithTickHook is called after every send attempt with its result.
func WithTickHook(fn func(err error)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// WithLogger sets the logger for send failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Timer) { t.log = l }
}

// Start launches the loop. Every interval, while alive reports true, send is
// called once. The loop exits on the first send error, when alive turns
// false, or when Stop is called.
func Start(interval time.Duration, alive func() bool, send func() error, opts ...Option) *Timer {
	t := &Timer{
		interval: interval,
		alive:    alive,
		send:     send,
		log:      slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.loop()
	return t
}

func (t *Timer) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
		// Stop may have raced with the tick.
		select {
		case <-t.stop:
			return
		default:
		}
		if !t.alive() {
			return
		}

		err := t.send()
		if t.onTick != nil {
			t.onTick(err)
		}
		if err != nil {
			t.log.Warn("keep-alive failed, stopping heartbeat", "error", err)
			return
		}
	}
}

// Stop ends the loop and waits for it to exit, so no send starts after Stop
// returns. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

// Done is closed once the loop has exited for any reason.
func (t *Timer) Done() <-chan struct{} { return t.done }
