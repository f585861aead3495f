// Package upstreamtest provides an in-memory voice agent for tests.
package upstreamtest

import (
	"context"
	"sync"

	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/upstream"
)

// Dialer hands out Conns and records every dial.
type Dialer struct {
	// Err, when set, is returned by Dial instead of a connection.
	Err error
	// Welcome makes Dial send OnWelcome from another goroutine right after
	// connecting.
	Welcome bool

	mu    sync.Mutex
	conns []*Conn
	dials int
}

// Dial implements upstream.Dialer.
func (d *Dialer) Dial(ctx context.Context, s upstream.Settings, h upstream.Handler) (upstream.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{Settings: s, handler: h, closed: make(chan struct{})}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	if d.Welcome {
		go c.Emit(func(h upstream.Handler) { h.OnWelcome() })
	}
	return c, nil
}

// Dials is the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn is a fake agent connection.
type Conn struct {
	Settings upstream.Settings

	handler upstream.Handler
	emitMu  sync.Mutex

	mu         sync.Mutex
	audio      [][]byte
	keepAlives int
	closeCount int
	closed     chan struct{}
	sendErr    error
}

// FailSends makes every later send return err; nil restores them.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// SendAudio records pcm.
func (c *Conn) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCount > 0 {
		return apperrors.New(apperrors.SessionNotRunning, "fake conn closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.audio = append(c.audio, append([]byte(nil), pcm...))
	return nil
}

// SendKeepAlive counts keep-alives.
func (c *Conn) SendKeepAlive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCount > 0 {
		return apperrors.New(apperrors.SessionNotRunning, "fake conn closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.keepAlives++
	return nil
}

// Close marks the connection closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if c.closeCount == 1 {
		close(c.closed)
	}
	return nil
}

// Emit calls fn with the handler. Calls are serialized like a real read loop.
func (c *Conn) Emit(fn func(h upstream.Handler)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	fn(c.handler)
}

// AudioFrames returns copies of every frame sent.
func (c *Conn) AudioFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

// KeepAlives is the number of keep-alives sent.
func (c *Conn) KeepAlives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlives
}

// CloseCount is the number of Close calls.
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// Closed is closed on the first Close.
func (c *Conn) Closed() <-chan struct{} { return c.closed }
