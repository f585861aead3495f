// Package capture reads linear16 microphone audio through PortAudio.
package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/krishijyoti/voicebridge/internal/audio"
)

// Mic captures one input device as mono linear16 frames.
type Mic struct {
	format       audio.Format
	framesPerBuf int
	excluded     []string
	outCh        chan []byte

	mu       sync.Mutex
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewMic initializes PortAudio. frameMillis sets the size of each emitted
// frame; bufferSize is how many frames may queue before new ones are dropped.
func NewMic(sampleRate, frameMillis, bufferSize int, excludedDevices []string) (*Mic, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	if frameMillis <= 0 {
		frameMillis = 20
	}
	return &Mic{
		format:       audio.Linear16(sampleRate, 1),
		framesPerBuf: sampleRate * frameMillis / 1000,
		excluded:     excludedDevices,
		outCh:        make(chan []byte, bufferSize),
	}, nil
}

// Frames returns the channel of captured PCM frames. It is closed when
// capture stops.
func (m *Mic) Frames() <-chan []byte { return m.outCh }

// Format is the PCM layout of every frame.
func (m *Mic) Format() audio.Format { return m.format }

// Start opens the preferred microphone and begins reading.
func (m *Mic) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	dev := m.pickDevice(devices)
	if dev == nil {
		if dev, err = portaudio.DefaultInputDevice(); err != nil {
			return err
		}
	}

	buf := make([]int16, m.framesPerBuf)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.format.SampleRate),
		FramesPerBuffer: m.framesPerBuf,
	}, buf)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.stream = stream
	m.done = make(chan struct{})
	slog.Info("started audio capture", "device", dev.Name, "format", m.format)

	go m.readLoop(ctx, stream, buf, dev.Name)
	return nil
}

func (m *Mic) readLoop(ctx context.Context, stream *portaudio.Stream, buf []int16, device string) {
	defer close(m.done)
	defer close(m.outCh)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(); err != nil {
			slog.Debug("audio read error", "device", device, "error", err)
			return
		}
		select {
		case m.outCh <- audio.Int16ToBytes(buf):
		default:
			slog.Debug("audio buffer full, dropping frame", "device", device)
		}
	}
}

// Stop ends capture and releases PortAudio.
func (m *Mic) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.cancel != nil {
			m.cancel()
		}
		if m.stream != nil {
			_ = m.stream.Stop()
			<-m.done
			_ = m.stream.Close()
		} else {
			close(m.outCh)
		}
		_ = portaudio.Terminate()
	})
}

// pickDevice returns the best microphone, or nil to fall back to the
// system default input.
func (m *Mic) pickDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || m.isExcluded(dev.Name) || !isMicrophone(dev.Name) {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	return best
}

func isMicrophone(name string) bool {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"} {
		if containsIgnoreCase(name, kw) {
			return false
		}
	}
	for _, kw := range []string{"microphone", "input", "mic", "built-in", "headset"} {
		if containsIgnoreCase(name, kw) {
			return true
		}
	}
	return false
}

func (m *Mic) isExcluded(name string) bool {
	for _, ex := range m.excluded {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

// preferDevice reports whether name beats current. Headsets win over
// built-in mics, which win over everything else.
func preferDevice(name, current string) bool {
	return rank(name) > rank(current)
}

func rank(name string) int {
	switch {
	case containsIgnoreCase(name, "headset"):
		return 2
	case containsIgnoreCase(name, "built-in"), containsIgnoreCase(name, "macbook"):
		return 1
	default:
		return 0
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
