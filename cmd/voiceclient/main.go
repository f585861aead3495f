// voiceclient streams the microphone to a voice bridge and saves the
// agent's spoken turns as WAV files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/krishijyoti/voicebridge/internal/audio/capture"
	"github.com/krishijyoti/voicebridge/internal/client"
	"github.com/krishijyoti/voicebridge/internal/resilience"
)

const stopGrace = 3 * time.Second

type options struct {
	url     string
	outDir  string
	rate    int
	frameMS int
	exclude string
	verbose bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	var opts options
	flag.StringVar(&opts.url, "url", "ws://localhost:8000/ws/voice", "voice bridge websocket URL")
	flag.StringVar(&opts.outDir, "out", "turns", "directory for agent audio")
	flag.IntVar(&opts.rate, "rate", 48000, "microphone sample rate")
	flag.IntVar(&opts.frameMS, "frame-ms", 20, "microphone frame size in milliseconds")
	flag.StringVar(&opts.exclude, "exclude", "", "comma-separated input devices to skip")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(opts); err != nil {
		slog.Error("voice client failed", "error", err)
		return 1
	}
	return 0
}

func run(opts options) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var excluded []string
	if opts.exclude != "" {
		excluded = strings.Split(opts.exclude, ",")
	}
	mic, err := capture.NewMic(opts.rate, opts.frameMS, 64, excluded)
	if err != nil {
		return err
	}

	c, err := client.Dial(sigCtx, opts.url, resilience.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := mic.Start(runCtx); err != nil {
		return err
	}
	defer mic.Stop()
	slog.Info("streaming microphone", "format", mic.Format().String(), "url", opts.url)

	turns := 0
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		return c.Receive(gctx, func(f client.Frame) {
			switch f.Type {
			case "partial_transcript":
				fmt.Printf("you:   %s\n", f.Text)
			case "agent_response":
				fmt.Printf("agent: %s\n", f.Text)
			case "status":
				slog.Debug("status", "status", f.Status)
			case "error":
				slog.Warn("server error", "message", f.Message)
			case "agent_audio_wav":
				wav, err := f.Audio()
				if err != nil {
					slog.Warn("bad agent audio", "error", err)
					return
				}
				turns++
				path, err := client.SaveTurn(opts.outDir, turns, wav)
				if err != nil {
					slog.Warn("save agent audio", "error", err)
					return
				}
				slog.Info("saved agent turn", "path", path, "bytes", len(wav))
			}
		})
	})
	g.Go(func() error {
		return c.Stream(gctx, mic.Frames())
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-sigCtx.Done():
		}
		slog.Info("stopping session")
		stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		if err := c.Stop(stopCtx); err != nil {
			cancelRun()
			return nil
		}
		select {
		case <-gctx.Done():
		case <-stopCtx.Done():
			cancelRun()
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
