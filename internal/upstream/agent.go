package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/resilience"
	"github.com/krishijyoti/voicebridge/internal/trace"
)

const defaultWriteTimeout = 5 * time.Second

// AgentDialer connects to the voice agent websocket API.
type AgentDialer struct {
	url          string
	apiKey       string
	writeTimeout time.Duration
	breaker      *resilience.Breaker
	dialer       *websocket.Dialer
	onEvent      func(eventType string)
}

// AgentOption configures an AgentDialer.
type AgentOption func(*AgentDialer)

// WithBreaker fails dials fast while the agent keeps failing.
func WithBreaker(b *resilience.Breaker) AgentOption {
	return func(d *AgentDialer) { d.breaker = b }
}

// WithWriteTimeout bounds every write on the agent socket.
func WithWriteTimeout(t time.Duration) AgentOption {
	return func(d *AgentDialer) { d.writeTimeout = t }
}

// WithEventHook observes the type of every frame read, including filtered ones.
func WithEventHook(fn func(eventType string)) AgentOption {
	return func(d *AgentDialer) { d.onEvent = fn }
}

// NewAgentDialer returns a dialer for url authenticating with apiKey.
func NewAgentDialer(url, apiKey string, opts ...AgentOption) *AgentDialer {
	d := &AgentDialer{
		url:          url,
		apiKey:       apiKey,
		writeTimeout: defaultWriteTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens the socket, sends s, and starts reading events into h. The
// read loop logs with the session and trace ids carried by ctx.
func (d *AgentDialer) Dial(ctx context.Context, s Settings, h Handler) (Conn, error) {
	if d.apiKey == "" {
		return nil, apperrors.New(apperrors.ConfigMissing, "DEEPGRAM_API_KEY is not set")
	}
	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	ws, resp, err := d.dialer.DialContext(ctx, d.url, http.Header{"Authorization": {"Token " + d.apiKey}})
	if err != nil {
		d.failure()
		appErr := apperrors.Wrap(err, apperrors.UpstreamConnectFailed, "connect voice agent")
		if resp != nil {
			appErr.WithMetadata("http_status", resp.Status)
		}
		return nil, appErr
	}

	c := &agentConn{
		ws:           ws,
		handler:      h,
		writeTimeout: d.writeTimeout,
		onEvent:      d.onEvent,
		log:          trace.Logger(ctx),
		done:         make(chan struct{}),
	}
	if err := c.writeJSON(newSettingsMessage(s)); err != nil {
		d.failure()
		_ = ws.Close()
		return nil, apperrors.Wrap(err, apperrors.UpstreamConnectFailed, "send agent settings")
	}
	if d.breaker != nil {
		d.breaker.Success()
	}

	go c.readLoop()
	return c, nil
}

func (d *AgentDialer) failure() {
	if d.breaker != nil {
		d.breaker.Failure()
	}
}

type agentConn struct {
	ws           *websocket.Conn
	handler      Handler
	writeTimeout time.Duration
	onEvent      func(string)
	log          *slog.Logger

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// SendAudio writes one binary frame of input PCM.
func (c *agentConn) SendAudio(pcm []byte) error {
	return c.write(websocket.BinaryMessage, pcm)
}

// SendKeepAlive writes the agent keep-alive control message.
func (c *agentConn) SendKeepAlive() error {
	return c.write(websocket.TextMessage, keepAliveMessage)
}

func (c *agentConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *agentConn) write(messageType int, data []byte) error {
	if c.closing.Load() {
		return apperrors.New(apperrors.SessionNotRunning, "agent connection closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return apperrors.Wrap(err, apperrors.UpstreamSendFailed, "write to voice agent")
	}
	return nil
}

// Close sends a normal close frame and tears down the socket. The handler
// gets no OnClosed for a connection closed this way.
func (c *agentConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *agentConn) readLoop() {
	defer close(c.done)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Info("voice agent closed connection")
			} else {
				c.log.Warn("voice agent read failed", "error", err)
			}
			c.closing.Store(true)
			_ = c.ws.Close()
			c.deliver(func() { c.handler.OnClosed(err) })
			return
		}

		if msgType == websocket.BinaryMessage {
			c.observe("AudioData")
			c.deliver(func() { c.handler.OnAudio(data) })
			continue
		}
		c.handleText(data)
	}
}

func (c *agentConn) handleText(data []byte) {
	ev, err := decodeEvent(data)
	if err != nil {
		c.log.Warn("undecodable voice agent message", "error", err)
		return
	}
	c.observe(ev.Type)
	if bookkeeping(ev.Type) {
		c.log.Debug("ignoring voice agent bookkeeping event", "type", ev.Type)
		return
	}
	c.deliver(func() {
		if err := dispatch(ev, c.handler); err != nil {
			c.log.Warn("dropping voice agent event", "type", ev.Type, "error", err)
		}
	})
}

func (c *agentConn) observe(eventType string) {
	if c.onEvent != nil {
		c.onEvent(eventType)
	}
}

// deliver runs one handler call; a panic is logged and the read loop keeps going.
func (c *agentConn) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("voice agent handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
