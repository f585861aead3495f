package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	producer int
	seq      int
}

func TestBridgeFlushesEventsPostedBeforeOwner(t *testing.T) {
	b := New[int](8)
	for i := 0; i < 5; i++ {
		require.True(t, b.Post(i))
	}
	b.Close()

	var got []int
	require.NoError(t, b.Run(context.Background(), func(v int) { got = append(got, v) }))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestBridgeDropsNewestBeyondMaxPending(t *testing.T) {
	var dropped []int
	b := New(3, WithDropHook(func(v int) { dropped = append(dropped, v) }))

	for i := 0; i < 5; i++ {
		b.Post(i)
	}
	assert.Equal(t, 3, b.Pending())
	assert.Equal(t, []int{3, 4}, dropped)

	b.Close()
	var got []int
	require.NoError(t, b.Run(context.Background(), func(v int) { got = append(got, v) }))
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestBridgeAttachedOwnerNeverLosesEvents(t *testing.T) {
	var dropped []int
	b := New(4, WithDropHook(func(v int) { dropped = append(dropped, v) }))

	gate := make(chan struct{})
	first := make(chan struct{})
	var got []int
	done := make(chan error, 1)
	go func() {
		done <- b.Run(context.Background(), func(v int) {
			if v == 0 {
				close(first)
				<-gate
			}
			got = append(got, v)
		})
	}()

	require.True(t, b.Post(0))
	<-first
	for i := 1; i <= 10; i++ {
		assert.True(t, b.Post(i), "post %d", i)
	}
	assert.Equal(t, 10, b.Pending())

	close(gate)
	b.Close()
	require.NoError(t, <-done)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
	assert.Empty(t, dropped)
}

func TestBridgePreservesOrderAcrossProducers(t *testing.T) {
	const producers, perProducer = 8, 200
	b := New[event](producers * perProducer)

	var (
		mu       sync.Mutex
		produced []event
		got      []event
		wg       sync.WaitGroup
	)

	done := make(chan error, 1)
	go func() {
		done <- b.Run(context.Background(), func(ev event) { got = append(got, ev) })
	}()

	// Each post happens under mu so produced records the global order in
	// which the upstream side emitted events.
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				mu.Lock()
				ev := event{producer: p, seq: i}
				produced = append(produced, ev)
				b.Post(ev)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	b.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, produced, got)
}

func TestBridgeRecoversFromPanickingDelivery(t *testing.T) {
	b := New[int](4)
	b.Post(1)
	b.Post(2)
	b.Post(3)
	b.Close()

	var got []int
	err := b.Run(context.Background(), func(v int) {
		if v == 2 {
			panic("boom")
		}
		got = append(got, v)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, got)
}

func TestBridgeRejectsAfterClose(t *testing.T) {
	b := New[int](4)
	b.Close()
	assert.False(t, b.Post(1))
	assert.Equal(t, 0, b.Pending())
}

func TestBridgeSecondOwnerRejected(t *testing.T) {
	b := New[int](4)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- b.Run(ctx, func(int) {})
	}()
	<-started

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.attached
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, b.Run(ctx, func(int) {}), ErrAttached)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
