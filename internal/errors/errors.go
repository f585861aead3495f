// Package errors provides the application error type shared by the gateway,
// the session layer and the admin gRPC surface.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Code classifies an AppError.
type Code int32

const (
	CodeUnspecified Code = iota
	Unknown
	Internal
	InvalidArgument
	Unavailable
	Timeout
	Cancelled
	ConfigMissing
	ConfigInvalid
	UpstreamConnectFailed
	UpstreamHandshakeTimeout
	UpstreamSendFailed
	UpstreamError
	SessionNotRunning
	SessionAlreadyRunning
	CircuitOpen
	RateLimited
)

var codeNames = map[Code]string{
	CodeUnspecified:          "UNSPECIFIED",
	Unknown:                  "UNKNOWN",
	Internal:                 "INTERNAL",
	InvalidArgument:          "INVALID_ARGUMENT",
	Unavailable:              "UNAVAILABLE",
	Timeout:                  "TIMEOUT",
	Cancelled:                "CANCELLED",
	ConfigMissing:            "CONFIG_MISSING",
	ConfigInvalid:            "CONFIG_INVALID",
	UpstreamConnectFailed:    "UPSTREAM_CONNECT_FAILED",
	UpstreamHandshakeTimeout: "UPSTREAM_HANDSHAKE_TIMEOUT",
	UpstreamSendFailed:       "UPSTREAM_SEND_FAILED",
	UpstreamError:            "UPSTREAM_ERROR",
	SessionNotRunning:        "SESSION_NOT_RUNNING",
	SessionAlreadyRunning:    "SESSION_ALREADY_RUNNING",
	CircuitOpen:              "CIRCUIT_OPEN",
	RateLimited:              "RATE_LIMITED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", int32(c))
}

// codeByName reverses codeNames.
func codeByName(name string) (Code, bool) {
	for c, n := range codeNames {
		if n == name {
			return c, true
		}
	}
	return CodeUnspecified, false
}

// grpcCodeMap maps Code to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnspecified:          codes.Unknown,
	Unknown:                  codes.Unknown,
	Internal:                 codes.Internal,
	InvalidArgument:          codes.InvalidArgument,
	Unavailable:              codes.Unavailable,
	Timeout:                  codes.DeadlineExceeded,
	Cancelled:                codes.Canceled,
	ConfigMissing:            codes.FailedPrecondition,
	ConfigInvalid:            codes.InvalidArgument,
	UpstreamConnectFailed:    codes.Unavailable,
	UpstreamHandshakeTimeout: codes.DeadlineExceeded,
	UpstreamSendFailed:       codes.Unavailable,
	UpstreamError:            codes.Internal,
	SessionNotRunning:        codes.FailedPrecondition,
	SessionAlreadyRunning:    codes.AlreadyExists,
	CircuitOpen:              codes.Unavailable,
	RateLimited:              codes.ResourceExhausted,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status carrying the code name and metadata as a
// structpb detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())

	fields := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		fields[k] = v
	}
	fields[detailCodeKey] = e.Code.String()

	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return st
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		st = withDetail
	}
	return st
}

const detailCodeKey = "app_code"

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		s, ok := detail.(*structpb.Struct)
		if !ok {
			continue
		}
		appErr := &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
		for k, v := range s.GetFields() {
			if k == detailCodeKey {
				if c, ok := codeByName(v.GetStringValue()); ok {
					appErr.Code = c
				}
				continue
			}
			appErr.WithMetadata(k, v.GetStringValue())
		}
		return appErr
	}

	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
}

// grpcToCode maps gRPC codes back to our codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return ConfigMissing
	case codes.ResourceExhausted:
		return RateLimited
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, UpstreamConnectFailed, UpstreamHandshakeTimeout, RateLimited:
		return true
	default:
		return false
	}
}
