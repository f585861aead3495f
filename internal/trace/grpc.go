package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor pulls trace ids out of incoming metadata and logs
// each call with its outcome.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()

		resp, err := handler(ctx, req)

		Logger(ctx).Debug("grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

func extractMetadata(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return WithContext(ctx, New())
	}
	m := make(map[string]string, 3)
	for _, k := range []string{TraceIDKey, SpanIDKey, ParentSpanIDKey} {
		if v := md.Get(k); len(v) > 0 {
			m[k] = v[0]
		}
	}
	return WithContext(ctx, FromMap(m))
}
