package trace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestGenerateIDs(t *testing.T) {
	if id := generateTraceID(); len(id) != 32 {
		t.Errorf("trace ID should be 32 chars, got %d", len(id))
	}
	if id := generateSpanID(); len(id) != 16 {
		t.Errorf("span ID should be 16 chars, got %d", len(id))
	}
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateTraceID()
		if seen[id] {
			t.Error("generated duplicate trace ID")
		}
		seen[id] = true
	}
}

func TestNewChild(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should have new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be parent's span ID")
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if len(tc.TraceID) != 32 {
		t.Error("should create trace ID")
	}

	_, tc2 := EnsureContext(ctx)
	if tc2.TraceID != tc.TraceID {
		t.Error("should return existing trace")
	}
}

func TestFromMap(t *testing.T) {
	tc := FromMap(map[string]string{TraceIDKey: "trace123", SpanIDKey: "span456"})

	if tc.TraceID != "trace123" {
		t.Error("trace ID mismatch")
	}
	if tc.ParentSpanID != "span456" {
		t.Error("parent span should be caller's span")
	}
	if len(tc.SpanID) != 16 {
		t.Error("should generate new span ID")
	}
	if fresh := FromMap(map[string]string{}); len(fresh.TraceID) != 32 {
		t.Error("should generate trace ID if missing")
	}
}

func TestTraceParentRoundTrip(t *testing.T) {
	tc := New()
	parsed, ok := ParseTraceParent(tc.TraceParent())
	if !ok {
		t.Fatalf("ParseTraceParent(%q) failed", tc.TraceParent())
	}
	if parsed.TraceID != tc.TraceID || parsed.ParentSpanID != tc.SpanID {
		t.Errorf("parsed = %+v, want trace %s parent %s", parsed, tc.TraceID, tc.SpanID)
	}

	for _, bad := range []string{"", "00-xyz", "00-" + tc.TraceID + "-zzzzzzzzzzzzzzzz-01"} {
		if _, ok := ParseTraceParent(bad); ok {
			t.Errorf("ParseTraceParent(%q) should fail", bad)
		}
	}
}

func TestStartSpanMirrorsOTel(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx := WithSession(context.Background(), "sess-1")
	ctx, parent := StartSpan(ctx, "session.start")
	_, child := StartSpan(ctx, "upstream.dial")
	child.RecordError(errors.New("refused"))
	child.End()
	parent.SetAttr("attempts", 2)
	parent.End()

	if child.Ctx.TraceID != parent.Ctx.TraceID {
		t.Error("child should inherit trace ID")
	}
	if parent.Attrs["session_id"] != "sess-1" {
		t.Errorf("session_id attr = %v, want sess-1", parent.Attrs["session_id"])
	}
	if parent.Duration() <= 0 {
		t.Error("span should have positive duration")
	}

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("recorded %d otel spans, want 2", len(ended))
	}
	if ended[0].Name() != "upstream.dial" || ended[0].Status().Description != "refused" {
		t.Errorf("first span = %s %+v, want upstream.dial with error status", ended[0].Name(), ended[0].Status())
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Error("otel child should be parented to the outer span")
	}
}

func TestMiddleware(t *testing.T) {
	parent := New()
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(TraceParentKey, parent.TraceParent())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got.TraceID != parent.TraceID || got.ParentSpanID != parent.SpanID {
		t.Errorf("context = %+v, want child of %+v", got, parent)
	}
	if rec.Header().Get(TraceIDKey) != parent.TraceID {
		t.Errorf("response %s = %q, want %q", TraceIDKey, rec.Header().Get(TraceIDKey), parent.TraceID)
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	md := metadata.Pairs(TraceIDKey, "abc", SpanIDKey, "def")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	var got Context
	_, err := UnaryServerInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req any) (any, error) {
			got, _ = FromContext(ctx)
			return nil, nil
		})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if got.TraceID != "abc" || got.ParentSpanID != "def" {
		t.Errorf("context = %+v, want trace abc parent def", got)
	}
}

func TestLogger(t *testing.T) {
	ctx := WithSession(WithContext(context.Background(), New()), "sess-1")
	Logger(ctx).Info("test message")
	Logger(context.Background()).Info("bare")
}
