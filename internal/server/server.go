package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/krishijyoti/voicebridge/internal/config"
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/metrics"
	"github.com/krishijyoti/voicebridge/internal/orchestrator"
	"github.com/krishijyoti/voicebridge/internal/trace"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	cfg      *config.Config
	manager  *orchestrator.Manager
	metrics  *metrics.Collector
	connects *ipLimiter
}

// New creates a new server. m may be nil.
func New(cfg *config.Config, manager *orchestrator.Manager, m *metrics.Collector) *Server {
	return &Server{
		cfg:      cfg,
		manager:  manager,
		metrics:  m,
		connects: newIPLimiter(cfg.ConnectRatePerIP, cfg.ConnectBurstPerIP),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Voice WebSocket endpoint
	mux.Handle("GET /ws/voice", s.connects.middleware("connect", s.metrics, http.HandlerFunc(s.handleVoice)))

	// Probes
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// REST API
	api := http.NewServeMux()
	api.HandleFunc("GET /api/sessions", s.handleSessions)
	api.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)
	mux.Handle("/api/", otelhttp.NewHandler(api, "api"))

	// Apply middleware: trace -> CORS
	return corsMiddleware(s.cfg.AllowedOrigins, trace.Middleware(mux))
}

// Run performs background upkeep until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.connects.run(ctx)
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	wildcard := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if wildcard {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())
	if s.manager.Draining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": ReasonShuttingDown})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	conn.SetReadLimit(MaxFrameBytes)

	ctx, span := trace.StartSpan(r.Context(), "voice.connection")
	defer span.End()
	span.SetAttr("remote", r.RemoteAddr)

	newGateway(ctx, s, conn).serve(ctx, r.RemoteAddr)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.manager.Draining() {
		status, code = "draining", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"service":  ServiceName,
		"sessions": s.manager.Count(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.Sessions()})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var since time.Duration
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seconds must be a non-negative integer"})
			return
		}
		since = time.Duration(n) * time.Second
	}

	entries, err := s.manager.Transcript(id, since)
	if apperrors.IsCode(err, apperrors.InvalidArgument) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	if err != nil {
		trace.Logger(r.Context()).Error("transcript lookup failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "entries": entries})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
