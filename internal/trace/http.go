package trace

import "net/http"

// Middleware extracts or creates trace context for HTTP requests and echoes
// the trace id back in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r)
		w.Header().Set(TraceIDKey, tc.TraceID)
		ctx := WithContext(r.Context(), tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractFromHeaders prefers a W3C traceparent header over the x-trace-id pair.
func extractFromHeaders(r *http.Request) Context {
	if tc, ok := ParseTraceParent(r.Header.Get(TraceParentKey)); ok {
		return tc
	}
	tc := Context{
		TraceID:      r.Header.Get(TraceIDKey),
		ParentSpanID: r.Header.Get(SpanIDKey),
		SpanID:       generateSpanID(),
	}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
	}
	return tc
}
