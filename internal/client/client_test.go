package client

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishijyoti/voicebridge/internal/audio"
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/resilience"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// fakeBridge sends a few frames, collects binary audio, and closes
// normally once it reads a stop command.
func fakeBridge(t *testing.T, received chan<- []byte) *httptest.Server {
	t.Helper()
	wav := audio.EncodeWAV([]byte{1, 2, 3, 4}, audio.Linear16(24000, 1))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_ = wsjson.Write(ctx, conn, Frame{Type: "status", Status: "ready", Timestamp: 1})
		_ = wsjson.Write(ctx, conn, Frame{Type: "agent_response", Text: "Namaste", Timestamp: 2})
		_ = wsjson.Write(ctx, conn, Frame{Type: "agent_audio_wav", AudioData: base64.StdEncoding.EncodeToString(wav), Timestamp: 3})

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				received <- data
				continue
			}
			if strings.Contains(string(data), `"stop"`) {
				_ = conn.Close(websocket.StatusNormalClosure, "stopped")
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestSessionRoundTrip(t *testing.T) {
	received := make(chan []byte, 4)
	ts := fakeBridge(t, received)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(ts), resilience.DefaultRetryConfig())
	require.NoError(t, err)

	frames := make(chan []byte, 1)
	frames <- []byte{7, 7}
	close(frames)
	require.NoError(t, c.Stream(ctx, frames))
	assert.Equal(t, []byte{7, 7}, <-received)

	var got []Frame
	done := make(chan error, 1)
	go func() {
		done <- c.Receive(ctx, func(f Frame) {
			got = append(got, f)
			if f.Type == "agent_audio_wav" {
				_ = c.Stop(ctx)
			}
		})
	}()

	require.NoError(t, <-done)
	require.Len(t, got, 3)
	assert.Equal(t, "ready", got[0].Status)
	assert.Equal(t, "Namaste", got[1].Text)

	wav, err := got[2].Audio()
	require.NoError(t, err)
	path, err := SaveTurn(t.TempDir(), 1, wav)
	require.NoError(t, err)
	assert.Equal(t, "turn-001.wav", filepath.Base(path))
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, wav, saved)
}

func TestReceiveAbnormalClose(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = wsjson.Write(r.Context(), conn, Frame{Type: "error", Message: "dial refused"})
		_ = conn.Close(websocket.StatusBadGateway, "voice session failed to start")
	}))
	defer ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(ts), resilience.DefaultRetryConfig())
	require.NoError(t, err)

	var msgs []string
	err = c.Receive(ctx, func(f Frame) { msgs = append(msgs, f.Message) })
	require.Error(t, err)
	assert.Equal(t, []string{"dial refused"}, msgs)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "1014", appErr.Metadata["close_code"])
}

func TestDialRetriesThenFails(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(ts)
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := Dial(ctx, url, resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	assert.True(t, apperrors.IsCode(err, apperrors.Unavailable), "err = %v", err)
}

func TestSaveTurnRejectsBadAudio(t *testing.T) {
	dir := t.TempDir()

	_, err := SaveTurn(dir, 1, []byte("not a wav"))
	assert.True(t, apperrors.IsCode(err, apperrors.InvalidArgument))

	wav := audio.EncodeWAV([]byte{1, 2}, audio.Linear16(24000, 1))
	_, err = SaveTurn(dir, 2, wav[:len(wav)-1])
	assert.True(t, apperrors.IsCode(err, apperrors.InvalidArgument))
}
