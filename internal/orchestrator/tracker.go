package orchestrator

import (
	"context"
	"sync"
)

// Handle lets the tracker reach a live session's client connection.
type Handle struct {
	// Warn sends the client an error frame. It must not block for long.
	Warn func(message string) error
	// Cancel ends the connection; the gateway then stops the session.
	Cancel func()
}

// tracker counts live sessions so shutdown can warn, cancel and wait
// for them.
type tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func newTracker() *tracker {
	return &tracker{sessions: make(map[string]*trackedSession)}
}

// register adds a session. The returned func removes it and is safe to
// call more than once.
func (t *tracker) register(id string, h Handle) (unregister func()) {
	entry := &trackedSession{handle: h}

	t.mu.Lock()
	old := t.sessions[id]
	t.sessions[id] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(id, old)
	}
	return func() { t.unregister(id, entry) }
}

func (t *tracker) unregister(id string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[id] == entry {
			delete(t.sessions, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	hs := make([]Handle, 0, len(t.sessions))
	for _, entry := range t.sessions {
		hs = append(hs, entry.handle)
	}
	return hs
}

// warnAll is best effort; it returns how many warnings were sent.
func (t *tracker) warnAll(message string) (sent int) {
	for _, h := range t.handles() {
		if h.Warn == nil {
			continue
		}
		if h.Warn(message) == nil {
			sent++
		}
	}
	return sent
}

func (t *tracker) cancelAll() (canceled int) {
	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// wait blocks until every session unregisters or ctx ends. It reports
// whether all sessions finished.
func (t *tracker) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
