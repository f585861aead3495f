package server

import (
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/upstream"
)

// Outbound frame types.
const (
	TypeAgentResponse     = "agent_response"
	TypePartialTranscript = "partial_transcript"
	TypeAgentAudioWAV     = "agent_audio_wav"
	TypeStatus            = "status"
	TypeError             = "error"
)

// Inbound command envelope values.
const (
	TypeCommand = "command"
	CommandStop = "stop"
)

type TextMessage struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

type AudioMessage struct {
	Type      string  `json:"type"`
	AudioData string  `json:"audio_data"`
	Timestamp float64 `json:"timestamp"`
}

type StatusMessage struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Command is the only text frame clients send.
type Command struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// timestamp is Unix time in fractional seconds.
func timestamp() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}

func transcriptMessage(role upstream.Role, text string) TextMessage {
	typ := TypePartialTranscript
	if role == upstream.RoleAssistant {
		typ = TypeAgentResponse
	}
	return TextMessage{Type: typ, Text: text, Timestamp: timestamp()}
}

func errorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: clientMessage(err)}
}

// clientMessage is the part of err a client should see: the agent's own
// description, or the message without codes, metadata and causes.
func clientMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	var agentErr *upstream.AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Description
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// parseCommand decodes a text frame. ok is false for anything that is not
// a well-formed command envelope.
func parseCommand(data []byte) (Command, bool) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, false
	}
	if cmd.Type != TypeCommand || cmd.Command == "" {
		return Command{}, false
	}
	return cmd, true
}
