// Package upstream talks to the external conversational voice agent.
package upstream

import (
	"context"

	"github.com/krishijyoti/voicebridge/internal/audio"
	"github.com/krishijyoti/voicebridge/internal/config"
)

// Role identifies the speaker of a transcript line.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Signal is a turn-taking notification from the agent.
type Signal int

const (
	UserStartedSpeaking Signal = iota
	AgentThinking
	AgentStartedSpeaking
)

func (s Signal) String() string {
	switch s {
	case UserStartedSpeaking:
		return "user_started_speaking"
	case AgentThinking:
		return "agent_thinking"
	case AgentStartedSpeaking:
		return "agent_started_speaking"
	default:
		return "unknown"
	}
}

// Handler receives agent events. Methods are called from the connection's
// read goroutine, one at a time, in the order the agent sent them.
type Handler interface {
	OnWelcome()
	OnStatus(sig Signal)
	OnAudio(pcm []byte)
	OnAudioDone()
	OnTranscript(role Role, content string)
	OnError(err error)
	// OnClosed is called once if the connection ends without Close.
	OnClosed(err error)
}

// Conn is an open agent connection. Writes are serialized internally.
type Conn interface {
	SendAudio(pcm []byte) error
	SendKeepAlive() error
	Close() error
}

// Dialer opens agent connections.
type Dialer interface {
	Dial(ctx context.Context, s Settings, h Handler) (Conn, error)
}

// Settings is the per-session agent configuration. It is sent once on
// connect and never renegotiated.
type Settings struct {
	Input         audio.Format
	Output        audio.Format
	Language      string
	ListenModel   string
	ThinkProvider string
	ThinkModel    string
	SpeakModel    string
	Prompt        string
	Greeting      string
}

// SettingsFromConfig builds agent settings from service configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Input: audio.Linear16(cfg.InputSampleRate, 1),
		Output: audio.Format{
			SampleRate:    cfg.OutputSampleRate,
			BitsPerSample: cfg.OutputBitsPerSample,
			Channels:      cfg.OutputChannels,
		},
		Language:      cfg.AgentLanguage,
		ListenModel:   cfg.ListenModel,
		ThinkProvider: cfg.ThinkProvider,
		ThinkModel:    cfg.ThinkModel,
		SpeakModel:    cfg.SpeakModel,
		Prompt:        cfg.AgentPrompt,
		Greeting:      cfg.AgentGreeting,
	}
}
