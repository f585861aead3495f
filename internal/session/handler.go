package session

import (
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/upstream"
)

// The methods below implement upstream.Handler. Each agent event makes at
// most one state transition and posts exactly one Event.

var _ upstream.Handler = (*Session)(nil)

func (s *Session) OnWelcome() {
	if !s.transition(StateReady) {
		// Start already gave up on this connection.
		return
	}
	s.welcomeOnce.Do(func() { close(s.welcome) })
	s.post(Event{Kind: KindStatusChange, Status: StateReady})
}

func (s *Session) OnStatus(sig upstream.Signal) {
	var to State
	switch sig {
	case upstream.UserStartedSpeaking:
		to = StateListening
	case upstream.AgentThinking:
		to = StateThinking
	case upstream.AgentStartedSpeaking:
		to = StateSpeaking
	default:
		return
	}
	s.transition(to)
	s.post(Event{Kind: KindStatusChange, Status: to})
}

func (s *Session) OnAudio(pcm []byte) {
	s.transition(StateSpeaking)
	s.post(Event{Kind: KindAudioChunk, Audio: pcm})
}

func (s *Session) OnAudioDone() {
	s.transition(StateReady)
	s.post(Event{Kind: KindAudioComplete})
}

func (s *Session) OnTranscript(role upstream.Role, content string) {
	s.post(Event{Kind: KindTranscript, Role: role, Text: content})
}

// OnError reports a mid-session agent error without ending the session.
func (s *Session) OnError(err error) {
	s.log.Warn("voice agent error", "error", err)
	s.post(Event{Kind: KindError, Err: apperrors.Wrap(err, apperrors.UpstreamError, "voice agent error")})
}

// OnClosed handles the agent dropping the connection. During Start it
// fails the handshake; afterwards the session moves to StateError and the
// owner decides what to do.
func (s *Session) OnClosed(err error) {
	if s.state.Get() == StateConnecting {
		select {
		case s.lost <- err:
		default:
		}
		return
	}
	s.log.Warn("voice agent connection lost", "error", err)
	s.transition(StateError)
	s.post(Event{Kind: KindClosed, Err: err})
}
