package orchestrator

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/krishijyoti/voicebridge/internal/bridge"
	"github.com/krishijyoti/voicebridge/internal/config"
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/metrics"
	"github.com/krishijyoti/voicebridge/internal/orchestrator/transcript"
	"github.com/krishijyoti/voicebridge/internal/session"
	"github.com/krishijyoti/voicebridge/internal/trace"
	"github.com/krishijyoti/voicebridge/internal/upstream"
)

// Info is a snapshot of one live session.
type Info struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Remote    string    `json:"remote,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates sessions and tracks the live ones.
type Manager struct {
	cfg         *config.Config
	dialer      upstream.Dialer
	metrics     *metrics.Collector
	tracker     *tracker
	transcripts *transcript.Store

	mu       sync.RWMutex
	sessions map[string]*entry
	draining atomic.Bool
}

type entry struct {
	sess   *session.Session
	remote string
}

// New creates a manager. m may be nil.
func New(cfg *config.Config, dialer upstream.Dialer, m *metrics.Collector) *Manager {
	return &Manager{
		cfg:         cfg,
		dialer:      dialer,
		metrics:     m,
		tracker:     newTracker(),
		transcripts: transcript.NewStore(TranscriptMaxEntries),
		sessions:    make(map[string]*entry),
	}
}

// NewSession creates an unstarted session whose events go to owner. The
// returned release func stops the session and forgets it; the caller must
// call it once the client connection is done. Fails with UNAVAILABLE
// while draining or when MAX_SESSIONS are live.
func (m *Manager) NewSession(ctx context.Context, owner bridge.Poster[session.Event], remote string, h Handle) (*session.Session, func(), error) {
	if m.draining.Load() {
		return nil, nil, apperrors.New(apperrors.Unavailable, "server draining")
	}

	id := uuid.NewString()
	sess := session.New(session.Options{
		ID:                id,
		Settings:          upstream.SettingsFromConfig(m.cfg),
		HeartbeatInterval: m.cfg.HeartbeatInterval,
		HandshakeTimeout:  m.cfg.HandshakeTimeout,
		Logger:            trace.Logger(ctx),
		Hooks: session.Hooks{
			Heartbeat: m.metrics.Heartbeat,
			AudioIn:   m.metrics.AudioIn,
			State: func(from, to session.State) {
				m.metrics.StateTransition(from.String(), to.String())
			},
		},
	}, m.dialer, owner)

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, nil, apperrors.New(apperrors.Unavailable, "session limit reached").
			WithMetadata("max_sessions", strconv.Itoa(m.cfg.MaxSessions))
	}
	m.sessions[id] = &entry{sess: sess, remote: remote}
	m.mu.Unlock()

	unregister := m.tracker.register(id, h)
	m.metrics.SessionOpened()

	var once sync.Once
	release := func() {
		once.Do(func() {
			sess.Stop()
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
			m.transcripts.Drop(id)
			m.metrics.SessionClosed(time.Since(sess.CreatedAt()))
			unregister()
		})
	}
	return sess, release, nil
}

// Start starts sess and records the outcome.
func (m *Manager) Start(ctx context.Context, sess *session.Session) error {
	err := sess.Start(ctx)
	if err != nil {
		m.metrics.SessionStarted(apperrors.CodeOf(err).String())
		return err
	}
	m.metrics.SessionStarted(StartResultOK)
	return nil
}

// RecordTranscript appends a forwarded line to the session's transcript.
func (m *Manager) RecordTranscript(sessionID string, role upstream.Role, text string) {
	m.transcripts.Add(sessionID, string(role), text)
}

// Transcript returns a live session's transcript entries newer than since
// ago; since <= 0 returns everything kept.
func (m *Manager) Transcript(sessionID string, since time.Duration) ([]transcript.Entry, error) {
	m.mu.RLock()
	_, live := m.sessions[sessionID]
	m.mu.RUnlock()
	if !live {
		return nil, apperrors.New(apperrors.InvalidArgument, "unknown session").
			WithMetadata("session_id", sessionID)
	}
	l, ok := m.transcripts.Get(sessionID)
	if !ok {
		return []transcript.Entry{}, nil
	}
	return l.Since(since), nil
}

// Sessions lists live sessions, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for id, e := range m.sessions {
		infos = append(infos, Info{
			ID:        id,
			State:     e.sess.State().String(),
			Remote:    e.remote,
			CreatedAt: e.sess.CreatedAt(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Count is the number of live sessions.
func (m *Manager) Count() int {
	return m.tracker.count()
}

// Draining reports whether Drain has begun.
func (m *Manager) Draining() bool {
	return m.draining.Load()
}

// Drain refuses new sessions, warns every client, cancels every session
// and waits for them to release. It reports whether all finished before
// ctx ended.
func (m *Manager) Drain(ctx context.Context) bool {
	m.draining.Store(true)
	log := trace.Logger(ctx)

	warned := m.tracker.warnAll(ShutdownMessage)
	if warned > 0 {
		select {
		case <-time.After(DrainWarnGrace):
		case <-ctx.Done():
		}
	}
	canceled := m.tracker.cancelAll()
	done := m.tracker.wait(ctx)

	log.Info("sessions drained", "warned", warned, "canceled", canceled, "complete", done)
	if !done {
		log.Warn("drain timed out", "remaining", m.tracker.count())
	}
	return done
}
