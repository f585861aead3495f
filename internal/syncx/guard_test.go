package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardSwap(t *testing.T) {
	g := NewGuard("connecting")

	old := g.Swap("ready")
	if old != "connecting" {
		t.Errorf("Swap returned %q, want %q", old, "connecting")
	}
	if got := g.Get(); got != "ready" {
		t.Errorf("Get() after Swap = %q, want %q", got, "ready")
	}
}

func TestGuardUpdate(t *testing.T) {
	g := NewGuard(10)

	if changed := g.Update(func(v *int) bool { return false }); changed {
		t.Error("Update should report no change")
	}
	if changed := g.Update(func(v *int) bool { *v = 20; return true }); !changed {
		t.Error("Update should report a change")
	}
	if got := g.Get(); got != 20 {
		t.Errorf("Get() = %d, want 20", got)
	}
}

func TestTransition(t *testing.T) {
	g := NewGuard("ready")
	notFromClosed := func(from, to string) bool { return from != "closed" }

	prev, ok := Transition(g, notFromClosed, "closed")
	if !ok || prev != "ready" {
		t.Errorf("Transition = (%q, %v), want (ready, true)", prev, ok)
	}

	prev, ok = Transition(g, notFromClosed, "ready")
	if ok || prev != "closed" {
		t.Errorf("Transition from closed = (%q, %v), want (closed, false)", prev, ok)
	}
	if got := g.Get(); got != "closed" {
		t.Errorf("Get() = %q, want closed", got)
	}
}

func TestGuardConcurrentSafety(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.Write(func(v *int) { *v++ })
		}()
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}
	wg.Wait()

	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}
