package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Agent message types.
const (
	typeSettings             = "Settings"
	typeKeepAlive            = "KeepAlive"
	typeWelcome              = "Welcome"
	typeSettingsApplied      = "SettingsApplied"
	typeConversationText     = "ConversationText"
	typeUserStartedSpeaking  = "UserStartedSpeaking"
	typeAgentThinking        = "AgentThinking"
	typeAgentStartedSpeaking = "AgentStartedSpeaking"
	typeAgentAudioDone       = "AgentAudioDone"
	typeError                = "Error"
	typeWarning              = "Warning"
	typeHistory              = "History"
	typeInjectionRefused     = "InjectionRefused"
	typeFunctionCallRequest  = "FunctionCallRequest"
	typePromptUpdated        = "PromptUpdated"
	typeSpeakUpdated         = "SpeakUpdated"
)

type settingsMessage struct {
	Type  string        `json:"type"`
	Audio audioSettings `json:"audio"`
	Agent agentSettings `json:"agent"`
}

type audioSettings struct {
	Input  audioFormat `json:"input"`
	Output audioFormat `json:"output"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type agentSettings struct {
	Language string        `json:"language"`
	Listen   providerBlock `json:"listen"`
	Think    thinkBlock    `json:"think"`
	Speak    providerBlock `json:"speak"`
	Greeting string        `json:"greeting,omitempty"`
}

type provider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type providerBlock struct {
	Provider provider `json:"provider"`
}

type thinkBlock struct {
	Provider provider `json:"provider"`
	Prompt   string   `json:"prompt,omitempty"`
}

func newSettingsMessage(s Settings) settingsMessage {
	return settingsMessage{
		Type: typeSettings,
		Audio: audioSettings{
			Input:  audioFormat{Encoding: "linear16", SampleRate: s.Input.SampleRate},
			Output: audioFormat{Encoding: "linear16", SampleRate: s.Output.SampleRate, Container: "none"},
		},
		Agent: agentSettings{
			Language: s.Language,
			Listen:   providerBlock{Provider: provider{Type: "deepgram", Model: s.ListenModel}},
			Think: thinkBlock{
				Provider: provider{Type: s.ThinkProvider, Model: s.ThinkModel},
				Prompt:   s.Prompt,
			},
			Speak:    providerBlock{Provider: provider{Type: "deepgram", Model: s.SpeakModel}},
			Greeting: s.Greeting,
		},
	}
}

var keepAliveMessage = []byte(`{"type":"` + typeKeepAlive + `"}`)

// event is one decoded agent text frame.
type event struct {
	Type        string `json:"type"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Code        string `json:"code"`
}

// AgentError is an Error event reported by the agent.
type AgentError struct {
	Code        string
	Description string
}

func (e *AgentError) Error() string {
	if e.Code == "" {
		return "voice agent error: " + e.Description
	}
	return fmt.Sprintf("voice agent error %s: %s", e.Code, e.Description)
}

var errUnknownRole = errors.New("unknown conversation role")

// decodeEvent parses one text frame.
func decodeEvent(data []byte) (event, error) {
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		return event{}, err
	}
	if ev.Type == "" {
		return event{}, errors.New("agent message without type")
	}
	return ev, nil
}

// bookkeeping reports whether an event type is agent-internal and must not
// reach the session. History replays the whole conversation and would flood
// the client with duplicate context. Types this bridge does not know are
// treated the same way.
func bookkeeping(eventType string) bool {
	switch eventType {
	case typeWelcome, typeConversationText, typeUserStartedSpeaking,
		typeAgentThinking, typeAgentStartedSpeaking, typeAgentAudioDone, typeError:
		return false
	case typeSettingsApplied, typeHistory, typeWarning, typeInjectionRefused,
		typeFunctionCallRequest, typePromptUpdated, typeSpeakUpdated:
		return true
	default:
		return true
	}
}

// dispatch routes a non-bookkeeping event to h.
func dispatch(ev event, h Handler) error {
	switch ev.Type {
	case typeWelcome:
		h.OnWelcome()
	case typeUserStartedSpeaking:
		h.OnStatus(UserStartedSpeaking)
	case typeAgentThinking:
		h.OnStatus(AgentThinking)
	case typeAgentStartedSpeaking:
		h.OnStatus(AgentStartedSpeaking)
	case typeAgentAudioDone:
		h.OnAudioDone()
	case typeConversationText:
		role := Role(ev.Role)
		if role != RoleUser && role != RoleAssistant {
			return fmt.Errorf("%w: %q", errUnknownRole, ev.Role)
		}
		h.OnTranscript(role, ev.Content)
	case typeError:
		desc := ev.Description
		if desc == "" {
			desc = ev.Message
		}
		h.OnError(&AgentError{Code: ev.Code, Description: desc})
	}
	return nil
}
