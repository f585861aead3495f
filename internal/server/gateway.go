package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/krishijyoti/voicebridge/internal/bridge"
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/orchestrator"
	"github.com/krishijyoti/voicebridge/internal/session"
	"github.com/krishijyoti/voicebridge/internal/trace"
)

// gateway serves one client connection. Every frame it writes is written
// by the bridge owner goroutine, except the refusal when no session could
// be created.
type gateway struct {
	srv      *Server
	conn     *websocket.Conn
	events   *bridge.Bridge[session.Event]
	commands *rate.Limiter
	log      *slog.Logger
	sess     *session.Session

	endOnce sync.Once
	ended   chan struct{}
	code    websocket.StatusCode
	reason  string
}

func newGateway(ctx context.Context, s *Server, conn *websocket.Conn) *gateway {
	log := trace.Logger(ctx)
	return &gateway{
		srv:  s,
		conn: conn,
		events: bridge.New[session.Event](s.cfg.BridgeMaxPending,
			bridge.WithDropHook(func(session.Event) { s.metrics.BridgeDropped() }),
			bridge.WithLogger[session.Event](log),
		),
		commands: rate.NewLimiter(rate.Limit(s.cfg.CommandRate), s.cfg.CommandBurst),
		log:      log,
		ended:    make(chan struct{}),
	}
}

// serve runs the connection to completion. The session is always stopped
// and the transport always closed before it returns.
func (g *gateway) serve(ctx context.Context, remote string) {
	sess, release, err := g.srv.manager.NewSession(ctx, g.events, remote, orchestrator.Handle{
		Warn:   g.warn,
		Cancel: func() { g.end(websocket.StatusGoingAway, ReasonShuttingDown) },
	})
	if err != nil {
		g.log.Warn("voice session refused", "remote", remote, "error", err)
		g.send(ctx, TypeError, errorMessage(err))
		_ = g.conn.Close(closeStatus(err), ReasonUnavailable)
		return
	}
	g.sess = sess
	g.log = g.log.With("session_id", sess.ID())
	g.log.Info("voice client connected", "remote", remote)

	var owner errgroup.Group
	owner.Go(func() error {
		return g.events.Run(ctx, func(ev session.Event) { g.deliver(ctx, ev) })
	})

	var readDone chan error
	if err := g.start(ctx); err != nil {
		g.end(closeStatus(err), ReasonStartFailed)
	} else {
		readDone = make(chan error, 1)
		go func() { readDone <- g.readPump(ctx) }()

		select {
		case err := <-readDone:
			readDone = nil
			if err != nil && websocket.CloseStatus(err) == -1 {
				g.log.Debug("websocket read error", "error", err)
			}
		case <-g.ended:
		}
	}

	// Flush what the agent already reported, then tear down.
	g.events.Close()
	if err := owner.Wait(); err != nil {
		g.log.Debug("event owner stopped", "error", err)
	}
	release()

	g.end(websocket.StatusNormalClosure, "")
	_ = g.conn.Close(g.code, g.reason)
	if readDone != nil {
		<-readDone
	}
	g.log.Info("voice client disconnected", "close_code", int(g.code))
}

// start runs the handshake, abandoning it if the connection is ended
// meanwhile.
func (g *gateway) start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.ended:
			cancel()
		case <-ctx.Done():
		}
	}()
	return g.srv.manager.Start(ctx, g.sess)
}

// end asks serve to close the connection with code. The first call wins.
func (g *gateway) end(code websocket.StatusCode, reason string) {
	g.endOnce.Do(func() {
		g.code, g.reason = code, reason
		close(g.ended)
	})
}

// warn queues an error frame behind whatever the agent already reported.
func (g *gateway) warn(message string) error {
	if !g.events.Post(session.Event{Kind: session.KindError, Err: errors.New(message)}) {
		return apperrors.New(apperrors.Unavailable, "connection closing")
	}
	return nil
}

func (g *gateway) readPump(ctx context.Context) error {
	for {
		typ, data, err := g.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			g.sess.SendAudio(data)
		case websocket.MessageText:
			if g.handleCommand(data) {
				g.end(websocket.StatusNormalClosure, ReasonStopped)
				return nil
			}
		}
	}
}

// handleCommand reports whether the client asked to stop. Bad or excess
// commands are logged and ignored.
func (g *gateway) handleCommand(data []byte) bool {
	if !g.commands.Allow() {
		g.srv.metrics.RateLimited("command")
		g.log.Warn("command rate limit exceeded")
		return false
	}
	cmd, ok := parseCommand(data)
	if !ok {
		g.log.Debug("ignoring malformed command", "bytes", len(data))
		return false
	}
	if cmd.Command != CommandStop {
		g.log.Debug("ignoring unknown command", "command", cmd.Command)
		return false
	}
	g.log.Info("client requested stop")
	return true
}

// deliver translates one session event into at most one frame. It runs on
// the bridge owner goroutine only.
func (g *gateway) deliver(ctx context.Context, ev session.Event) {
	if g.sess.Stopped() {
		return
	}
	switch ev.Kind {
	case session.KindAudioChunk:
		g.sess.AppendTurnAudio(ev.Audio)

	case session.KindAudioComplete:
		wav := g.sess.TakeTurnAudio()
		g.srv.metrics.WAVFramed(len(wav))
		g.send(ctx, TypeAgentAudioWAV, AudioMessage{
			Type:      TypeAgentAudioWAV,
			AudioData: base64.StdEncoding.EncodeToString(wav),
			Timestamp: timestamp(),
		})

	case session.KindTranscript:
		g.srv.manager.RecordTranscript(g.sess.ID(), ev.Role, ev.Text)
		msg := transcriptMessage(ev.Role, ev.Text)
		g.send(ctx, msg.Type, msg)

	case session.KindStatusChange:
		if ev.Status == session.StateListening {
			// The user interrupted; the partial turn is stale.
			g.sess.ResetTurnAudio()
		}
		status := ev.Status.String()
		if !g.srv.cfg.StatusAllowed(status) {
			return
		}
		g.send(ctx, TypeStatus, StatusMessage{Type: TypeStatus, Status: status, Timestamp: timestamp()})

	case session.KindError:
		g.send(ctx, TypeError, errorMessage(ev.Err))

	case session.KindClosed:
		g.srv.metrics.UpstreamError()
		g.send(ctx, TypeError, ErrorMessage{Type: TypeError, Message: ReasonAgentLost})
		g.end(websocket.StatusBadGateway, ReasonAgentLost)
	}
}

func (g *gateway) send(ctx context.Context, frameType string, msg any) {
	wctx, cancel := context.WithTimeout(ctx, g.srv.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, g.conn, msg); err != nil {
		g.log.Debug("websocket write failed", "type", frameType, "error", err)
		return
	}
	g.srv.metrics.FrameOut(frameType)
}

// closeStatus maps a start failure to the status the client sees.
func closeStatus(err error) websocket.StatusCode {
	switch apperrors.CodeOf(err) {
	case apperrors.UpstreamConnectFailed, apperrors.UpstreamHandshakeTimeout:
		return websocket.StatusBadGateway
	case apperrors.CircuitOpen, apperrors.Unavailable, apperrors.RateLimited:
		return websocket.StatusTryAgainLater
	default:
		return websocket.StatusInternalError
	}
}
