// Package session owns one live voice interaction: its agent connection,
// lifecycle state, keep-alive loop and the audio of the current turn.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krishijyoti/voicebridge/internal/audio"
	"github.com/krishijyoti/voicebridge/internal/bridge"
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/heartbeat"
	"github.com/krishijyoti/voicebridge/internal/syncx"
	"github.com/krishijyoti/voicebridge/internal/trace"
	"github.com/krishijyoti/voicebridge/internal/upstream"
)

// Hooks observe session activity. Any field may be nil.
type Hooks struct {
	Heartbeat func(err error)
	AudioIn   func(bytes int, err error)
	State     func(from, to State)
}

// Options configures a Session.
type Options struct {
	ID                string
	Settings          upstream.Settings
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	Logger            *slog.Logger
	Hooks             Hooks
}

// Session bridges one client to one agent connection. Agent callbacks
// arrive on the connection's goroutine and are handed to owner as Events;
// owner is fixed at construction.
type Session struct {
	id        string
	opts      Options
	dialer    upstream.Dialer
	owner     bridge.Poster[Event]
	log       *slog.Logger
	createdAt time.Time

	state   *syncx.RWGuard[State]
	conn    *syncx.RWGuard[upstream.Conn]
	running atomic.Bool
	stopped atomic.Bool

	// mu serializes Start and Stop.
	mu       sync.Mutex
	hb       *heartbeat.Timer
	stopCh   chan struct{}
	stopOnce sync.Once

	welcome     chan struct{}
	welcomeOnce sync.Once
	lost        chan error

	bufMu sync.Mutex
	buf   *audio.Accumulator
}

// New creates a session in StateInit. Nothing is dialed until Start.
func New(opts Options, dialer upstream.Dialer, owner bridge.Poster[Event]) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	return &Session{
		id:        opts.ID,
		opts:      opts,
		dialer:    dialer,
		owner:     owner,
		log:       opts.Logger.With("session_id", opts.ID),
		createdAt: time.Now(),
		state:     syncx.NewGuard(StateInit),
		conn:      syncx.NewGuard[upstream.Conn](nil),
		stopCh:    make(chan struct{}),
		welcome:   make(chan struct{}),
		lost:      make(chan error, 1),
		buf:       audio.NewAccumulator(64 * 1024),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) State() State         { return s.state.Get() }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Running reports whether Start succeeded and Stop has not begun.
func (s *Session) Running() bool { return s.running.Load() }

// Stopped reports whether Stop has been called. Events that reach the
// owner after this are stale.
func (s *Session) Stopped() bool { return s.stopped.Load() }

// Start dials the agent and waits for its welcome. A nil error means the
// session is running. On failure nothing stays open, the state is
// StateError and an Error event has been posted. Calling Start on a
// session that was already started returns SESSION_ALREADY_RUNNING and
// changes nothing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return apperrors.New(apperrors.SessionNotRunning, "session stopped")
	}
	if _, ok := syncx.Transition(s.state, canTransition, StateConnecting); !ok {
		return apperrors.New(apperrors.SessionAlreadyRunning, "session already started")
	}
	s.notifyState(StateInit, StateConnecting)

	ctx, span := trace.StartSpan(trace.WithSession(ctx, s.id), "session.start")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := s.dialer.Dial(ctx, s.opts.Settings, s)
	if err != nil {
		if ctx.Err() != nil {
			err = s.handshakeErr(ctx, err)
		}
		span.RecordError(err)
		return s.fail(err)
	}

	select {
	case <-s.welcome:
	case lostErr := <-s.lost:
		err = apperrors.Wrap(lostErr, apperrors.UpstreamConnectFailed, "voice agent closed during handshake")
	case <-ctx.Done():
		err = s.handshakeErr(ctx, ctx.Err())
	}
	if err == nil && s.stopped.Load() {
		// welcome and Stop raced; Stop wins
		err = apperrors.New(apperrors.Cancelled, "session stopped during start")
	}
	if err != nil {
		_ = conn.Close()
		span.RecordError(err)
		return s.fail(err)
	}

	s.conn.Set(conn)
	s.running.Store(true)
	s.hb = heartbeat.Start(s.opts.HeartbeatInterval, s.running.Load, s.sendKeepAlive,
		heartbeat.WithLogger(s.log),
		heartbeat.WithTickHook(s.opts.Hooks.Heartbeat),
	)
	s.log.Info("voice session started", "state", s.state.Get())
	return nil
}

func (s *Session) handshakeErr(ctx context.Context, cause error) error {
	select {
	case <-s.stopCh:
		return apperrors.Wrap(cause, apperrors.Cancelled, "session stopped during start")
	default:
	}
	if ctx.Err() == context.DeadlineExceeded {
		return apperrors.Wrap(cause, apperrors.UpstreamHandshakeTimeout, "no welcome from voice agent").
			WithMetadata("timeout", s.opts.HandshakeTimeout.String())
	}
	return apperrors.Wrap(cause, apperrors.Cancelled, "session start cancelled")
}

// fail rolls a failed Start back to StateError and reports err to the owner.
func (s *Session) fail(err error) error {
	s.transition(StateError)
	s.log.Warn("voice session failed to start", "error", err)
	s.post(Event{Kind: KindError, Err: err})
	return err
}

// SendAudio forwards client PCM to the agent. It is a no-op unless the
// session is running and never fails the caller; send errors are logged.
// The write happens on the calling goroutine and is bounded by the agent
// connection's write timeout.
func (s *Session) SendAudio(pcm []byte) {
	if !s.running.Load() {
		return
	}
	conn := s.conn.Get()
	if conn == nil {
		return
	}
	err := conn.SendAudio(pcm)
	if s.opts.Hooks.AudioIn != nil {
		s.opts.Hooks.AudioIn(len(pcm), err)
	}
	if err != nil && s.running.Load() {
		s.log.Debug("audio frame not forwarded", "bytes", len(pcm), "error", err)
	}
}

func (s *Session) sendKeepAlive() error {
	conn := s.conn.Get()
	if conn == nil {
		return apperrors.New(apperrors.SessionNotRunning, "no agent connection")
	}
	return conn.SendKeepAlive()
}

// Stop tears the session down. It may be called at any time, from any
// goroutine, any number of times; only the first call does anything. No
// keep-alive is sent after Stop returns.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.running.Store(false)
		close(s.stopCh)

		s.mu.Lock()
		defer s.mu.Unlock()

		// a Start that finished while we waited for mu may have set it again
		s.running.Store(false)
		if s.hb != nil {
			s.hb.Stop()
		}
		if conn := s.conn.Swap(nil); conn != nil {
			if err := conn.Close(); err != nil {
				s.log.Debug("closing agent connection", "error", err)
			}
		}
		s.ResetTurnAudio()
		s.transition(StateClosed)
		s.log.Info("voice session stopped")
	})
}

// AppendTurnAudio adds agent PCM to the current turn.
func (s *Session) AppendTurnAudio(pcm []byte) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.buf.Append(pcm)
}

// TakeTurnAudio frames the current turn as WAV and starts a new turn.
func (s *Session) TakeTurnAudio() []byte {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	wav := s.buf.Finalize(s.opts.Settings.Output)
	s.buf.Clear()
	return wav
}

// ResetTurnAudio discards a partial turn.
func (s *Session) ResetTurnAudio() {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.buf.Clear()
}

// TurnAudioLen is the number of PCM bytes buffered for the current turn.
func (s *Session) TurnAudioLen() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.buf.Len()
}

func (s *Session) transition(to State) bool {
	from, ok := syncx.Transition(s.state, canTransition, to)
	if ok && from != to {
		s.notifyState(from, to)
	}
	return ok
}

func (s *Session) notifyState(from, to State) {
	s.log.Debug("session state", "from", from, "to", to)
	if s.opts.Hooks.State != nil {
		s.opts.Hooks.State(from, to)
	}
}

func (s *Session) post(ev Event) {
	if s.stopped.Load() {
		return
	}
	s.owner.Post(ev)
}
