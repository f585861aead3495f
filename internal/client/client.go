// Package client speaks the voice bridge's client protocol: binary PCM up,
// JSON frames down.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/krishijyoti/voicebridge/internal/audio"
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/resilience"
)

// Frame is any frame the server sends. Only the fields for Type are set.
type Frame struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	Status    string  `json:"status,omitempty"`
	Message   string  `json:"message,omitempty"`
	AudioData string  `json:"audio_data,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Audio decodes the WAV payload of an agent_audio_wav frame.
func (f Frame) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.AudioData)
}

// Client is one connection to /ws/voice.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to url, retrying with backoff while the server is
// unreachable.
func Dial(ctx context.Context, url string, retry resilience.RetryConfig) (*Client, error) {
	var conn *websocket.Conn
	err := resilience.Retry(ctx, retry, func() error {
		c, resp, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			appErr := apperrors.Wrap(err, apperrors.Unavailable, "dial voice server")
			if resp != nil {
				appErr.WithMetadata("http_status", fmt.Sprint(resp.StatusCode))
			}
			return appErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Stream sends every frame from frames as binary audio until frames
// closes or ctx is done.
func (c *Client) Stream(ctx context.Context, frames <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pcm, ok := <-frames:
			if !ok {
				return nil
			}
			if err := c.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return apperrors.Wrap(err, apperrors.UpstreamSendFailed, "send audio frame")
			}
		}
	}
}

// Receive calls fn for each server frame until the server closes the
// connection or ctx ends. A normal close returns nil; any other close
// returns an error carrying the close code.
func (c *Client) Receive(ctx context.Context, fn func(Frame)) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			code := websocket.CloseStatus(err)
			if code == websocket.StatusNormalClosure || code == websocket.StatusGoingAway {
				return nil
			}
			e := apperrors.Wrap(err, apperrors.Unavailable, "voice connection closed")
			if code != -1 {
				e.WithMetadata("close_code", fmt.Sprint(int(code)))
			}
			return e
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		fn(f)
	}
}

// Stop asks the server to end the session. The server closes the
// connection in response.
func (c *Client) Stop(ctx context.Context) error {
	return wsjson.Write(ctx, c.conn, map[string]string{"type": "command", "command": "stop"})
}

// Close closes the connection without waiting for the server.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// SaveTurn writes one agent turn to dir as turn-NNN.wav after checking its
// header agrees with its length.
func SaveTurn(dir string, n int, wav []byte) (string, error) {
	hdr, err := audio.ParseWAVHeader(wav)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.InvalidArgument, "agent audio is not WAV")
	}
	if !hdr.Valid(len(wav)) {
		return "", apperrors.Newf(apperrors.InvalidArgument, "WAV header declares %d bytes, got %d", hdr.DataSize, len(wav)-audio.WAVHeaderSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("turn-%03d.wav", n))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
