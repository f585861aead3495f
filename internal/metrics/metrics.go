// Package metrics exposes voice bridge counters to Prometheus. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicebridge"

// Collector holds every metric the service records.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsStarted  *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
	audioFramesIn    prometheus.Counter
	audioBytesIn     prometheus.Counter
	audioSendErrors  prometheus.Counter
	framesOut        *prometheus.CounterVec
	upstreamEvents   *prometheus.CounterVec
	upstreamErrors   prometheus.Counter
	heartbeats       *prometheus.CounterVec
	bridgeDropped    prometheus.Counter
	wavBytes         prometheus.Counter
	stateTransitions *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	rateLimited      *prometheus.CounterVec
}

// New registers all metrics on a fresh registry, along with the Go and
// process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Voice sessions currently open",
		}),
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_started_total",
			Help: "Session start attempts by result",
		}, []string{"result"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "session_duration_seconds",
			Help:    "Lifetime of voice sessions",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		audioFramesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_frames_in_total",
			Help: "Client audio frames forwarded to the agent",
		}),
		audioBytesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_bytes_in_total",
			Help: "Client audio bytes forwarded to the agent",
		}),
		audioSendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_send_errors_total",
			Help: "Client audio frames the agent connection rejected",
		}),
		framesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_out_total",
			Help: "Frames sent to clients by type",
		}, []string{"type"}),
		upstreamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_events_total",
			Help: "Frames received from the agent by type, including filtered ones",
		}, []string{"kind"}),
		upstreamErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_errors_total",
			Help: "Error events and lost connections reported by the agent",
		}),
		heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "heartbeats_total",
			Help: "Keep-alive attempts by result",
		}, []string{"result"}),
		bridgeDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bridge_dropped_total",
			Help: "Session events dropped because the owner queue was full or closed",
		}),
		wavBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "wav_bytes_total",
			Help: "WAV bytes framed for clients, headers included",
		}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_state_transitions_total",
			Help: "Session state transitions",
		}, []string{"from", "to"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"limiter"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed(lifetime time.Duration) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionDuration.Observe(lifetime.Seconds())
}

// SessionStarted records a Start outcome; result is "ok" or an error code.
func (c *Collector) SessionStarted(result string) {
	if c == nil {
		return
	}
	c.sessionsStarted.WithLabelValues(result).Inc()
}

func (c *Collector) AudioIn(bytes int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.audioSendErrors.Inc()
		return
	}
	c.audioFramesIn.Inc()
	c.audioBytesIn.Add(float64(bytes))
}

func (c *Collector) FrameOut(frameType string) {
	if c == nil {
		return
	}
	c.framesOut.WithLabelValues(frameType).Inc()
}

func (c *Collector) UpstreamEvent(kind string) {
	if c == nil {
		return
	}
	c.upstreamEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) UpstreamError() {
	if c == nil {
		return
	}
	c.upstreamErrors.Inc()
}

func (c *Collector) Heartbeat(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.heartbeats.WithLabelValues(result).Inc()
}

func (c *Collector) BridgeDropped() {
	if c == nil {
		return
	}
	c.bridgeDropped.Inc()
}

func (c *Collector) WAVFramed(bytes int) {
	if c == nil {
		return
	}
	c.wavBytes.Add(float64(bytes))
}

func (c *Collector) StateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// BreakerState records a breaker's state as its numeric value.
func (c *Collector) BreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

func (c *Collector) RateLimited(limiter string) {
	if c == nil {
		return
	}
	c.rateLimited.WithLabelValues(limiter).Inc()
}
