// Package rpc serves the gRPC admin endpoint: the standard health service,
// behind trace and error interceptors.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	apperrors "github.com/krishijyoti/voicebridge/internal/errors"
	"github.com/krishijyoti/voicebridge/internal/trace"
)

// VoiceService is the health service name for the voice bridge.
const VoiceService = "krishijyoti.voice.v1.VoiceBridge"

// Server wraps a grpc.Server with health reporting.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a server that starts out NOT_SERVING.
func New() *Server {
	s := &Server{
		grpc: grpc.NewServer(grpc.ChainUnaryInterceptor(
			trace.UnaryServerInterceptor(),
			ErrorInterceptor(),
		)),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the overall and voice service health.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(VoiceService, st)
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// GracefulStop marks everything NOT_SERVING and waits for in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// ErrorInterceptor turns handler errors into gRPC statuses. AppErrors keep
// their code and metadata; other errors and panics become INTERNAL.
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				trace.Logger(ctx).Error("grpc handler panicked", "method", info.FullMethod, "panic", fmt.Sprint(r))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()

		resp, err = handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return resp, appErr.GRPCStatus().Err()
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		return resp, status.Error(codes.Internal, err.Error())
	}
}
