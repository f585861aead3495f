package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/krishijyoti/voicebridge/internal/config"
	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/metrics"
	"github.com/krishijyoti/voicebridge/internal/orchestrator"
	"github.com/krishijyoti/voicebridge/internal/session"
	"github.com/krishijyoti/voicebridge/internal/upstream"
	"github.com/krishijyoti/voicebridge/internal/upstream/upstreamtest"
)

type nopPoster struct{}

func (nopPoster) Post(session.Event) bool { return true }

func newTestServer(mutate func(*config.Config)) (*Server, *orchestrator.Manager) {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	m := metrics.New()
	mgr := orchestrator.New(cfg, &upstreamtest.Dialer{Welcome: true}, m)
	return New(cfg, mgr, m), mgr
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware([]string{"*"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, OPTIONS")
	}
}

func TestCORSMiddlewareAllowList(t *testing.T) {
	handler := corsMiddleware([]string{"https://krishijyoti.in"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	req.Header.Set("Origin", "https://krishijyoti.in")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "https://krishijyoti.in" {
		t.Errorf("CORS origin = %q, want %q", v, "https://krishijyoti.in")
	}

	req = httptest.NewRequest("GET", "/healthz", http.NoBody)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "" {
		t.Errorf("CORS origin for unknown site = %q, want empty", v)
	}
}

func TestHealth(t *testing.T) {
	srv, mgr := newTestServer(nil)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["service"] != ServiceName || body["sessions"] != float64(0) {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("trace middleware did not set X-Trace-ID")
	}

	mgr.Drain(t.Context())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status while draining = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSessionsAPI(t *testing.T) {
	srv, mgr := newTestServer(nil)
	h := srv.Handler()

	sess, release, err := mgr.NewSession(t.Context(), nopPoster{}, "192.0.2.7:4000", orchestrator.Handle{})
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	mgr.RecordTranscript(sess.ID(), upstream.RoleUser, "Is it time to irrigate?")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions", http.NoBody))
	var list struct {
		Sessions []orchestrator.Info `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != sess.ID() {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+sess.ID()+"/transcript?seconds=60", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status = %d, want %d", rec.Code, http.StatusOK)
	}
	var tr struct {
		Entries []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatal(err)
	}
	if len(tr.Entries) != 1 || tr.Entries[0].Text != "Is it time to irrigate?" {
		t.Errorf("entries = %+v", tr.Entries)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/sessions/nope/transcript", http.StatusNotFound},
		{"/api/sessions/" + sess.ID() + "/transcript?seconds=soon", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, http.NoBody))
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestConnectRateLimit(t *testing.T) {
	srv, _ := newTestServer(func(c *config.Config) {
		c.ConnectRatePerIP = 0.001
		c.ConnectBurstPerIP = 1
	})
	h := srv.Handler()

	// Not an upgrade, but it still spends the token.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/voice", http.NoBody))
	if rec.Code == http.StatusTooManyRequests {
		t.Fatal("first request was rate limited")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/voice", http.NoBody))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestIPLimiterSweep(t *testing.T) {
	l := newIPLimiter(1, 1)
	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	if n := l.size(); n != 2 {
		t.Fatalf("size() = %d, want 2", n)
	}

	if n := l.sweep(time.Now()); n != 0 {
		t.Errorf("sweep(now) = %d, want 0", n)
	}
	if n := l.sweep(time.Now().Add(2 * IPLimiterEntryTTL)); n != 2 {
		t.Errorf("sweep(later) = %d, want 2", n)
	}
	if n := l.size(); n != 0 {
		t.Errorf("size() after sweep = %d, want 0", n)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		cmd   string
	}{
		{"stop", `{"type":"command","command":"stop"}`, true, "stop"},
		{"other command", `{"type":"command","command":"mute"}`, true, "mute"},
		{"wrong type", `{"type":"chat","command":"stop"}`, false, ""},
		{"missing command", `{"type":"command"}`, false, ""},
		{"not json", `stop`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := parseCommand([]byte(tt.input))
			if ok != tt.ok || cmd.Command != tt.cmd {
				t.Errorf("parseCommand(%s) = (%q, %v), want (%q, %v)", tt.input, cmd.Command, ok, tt.cmd, tt.ok)
			}
		})
	}
}

func TestClientMessage(t *testing.T) {
	agentErr := apperrors.Wrap(&upstream.AgentError{Code: "X", Description: "bad audio"}, apperrors.UpstreamError, "voice agent error")
	tests := []struct {
		err  error
		want string
	}{
		{agentErr, "bad audio"},
		{apperrors.New(apperrors.ConfigMissing, "DEEPGRAM_API_KEY is not set").WithMetadata("k", "v"), "DEEPGRAM_API_KEY is not set"},
		{errors.New("plain"), "plain"},
		{nil, "unknown error"},
	}
	for _, tt := range tests {
		if got := clientMessage(tt.err); got != tt.want {
			t.Errorf("clientMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCloseStatus(t *testing.T) {
	tests := []struct {
		code apperrors.Code
		want websocket.StatusCode
	}{
		{apperrors.ConfigMissing, websocket.StatusInternalError},
		{apperrors.UpstreamConnectFailed, websocket.StatusBadGateway},
		{apperrors.UpstreamHandshakeTimeout, websocket.StatusBadGateway},
		{apperrors.CircuitOpen, websocket.StatusTryAgainLater},
		{apperrors.Unavailable, websocket.StatusTryAgainLater},
		{apperrors.Internal, websocket.StatusInternalError},
	}
	for _, tt := range tests {
		if got := closeStatus(apperrors.New(tt.code, "x")); got != tt.want {
			t.Errorf("closeStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
