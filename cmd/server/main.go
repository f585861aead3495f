// Voice bridge server: accepts client websocket sessions and relays them to
// the upstream voice agent.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/krishijyoti/voicebridge/internal/config"
	"github.com/krishijyoti/voicebridge/internal/metrics"
	"github.com/krishijyoti/voicebridge/internal/orchestrator"
	"github.com/krishijyoti/voicebridge/internal/resilience"
	"github.com/krishijyoti/voicebridge/internal/rpc"
	"github.com/krishijyoti/voicebridge/internal/server"
	"github.com/krishijyoti/voicebridge/internal/telemetry"
	"github.com/krishijyoti/voicebridge/internal/upstream"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	breaker := resilience.New(resilience.Config{
		Name:         "voice-agent",
		Threshold:    cfg.BreakerThreshold,
		ResetTimeout: cfg.BreakerResetTimeout,
	}).WithHook(func(name string, from, to resilience.State) {
		slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		m.BreakerState(name, int(to))
	})

	dialer := upstream.NewAgentDialer(cfg.AgentURL, cfg.DeepgramAPIKey,
		upstream.WithBreaker(breaker),
		upstream.WithWriteTimeout(cfg.WriteTimeout),
		upstream.WithEventHook(m.UpstreamEvent),
	)
	manager := orchestrator.New(cfg, dialer, m)
	srv := server.New(cfg, manager, m)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var rpcServer *rpc.Server
	var rpcLis net.Listener
	if cfg.GRPCAddr != "" {
		rpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		rpcServer = rpc.New()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("voice bridge starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "agent", cfg.AgentURL)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if rpcServer != nil {
		rpcServer.SetServing(true)
		g.Go(func() error { return rpcServer.Serve(rpcLis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdown(cfg, manager, httpServer, rpcServer, providers)
		return nil
	})

	return g.Wait()
}

// shutdown warns live sessions, waits for them to end, then stops the
// listeners and flushes traces.
func shutdown(cfg *config.Config, manager *orchestrator.Manager, httpServer *http.Server, rpcServer *rpc.Server, providers *telemetry.Providers) {
	slog.Info("shutting down", "sessions", manager.Count())
	if rpcServer != nil {
		rpcServer.SetServing(false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if !manager.Drain(ctx) {
		slog.Warn("sessions still open at shutdown deadline", "sessions", manager.Count())
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if rpcServer != nil {
		rpcServer.GracefulStop()
	}
	if err := providers.Shutdown(ctx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
