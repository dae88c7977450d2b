package transport

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const defaultSlowThreshold = 500 * time.Millisecond

// LoggingConfig configures RPC logging.
type LoggingConfig struct {
	Logger *slog.Logger

	// SlowRequestThreshold raises successful RPCs slower than this to warn.
	SlowRequestThreshold time.Duration

	// ExcludeMethods are full method names that are never logged.
	ExcludeMethods []string
}

// DefaultLoggingConfig logs every RPC except health checks.
func DefaultLoggingConfig(logger *slog.Logger) *LoggingConfig {
	return &LoggingConfig{
		Logger:               logger,
		SlowRequestThreshold: defaultSlowThreshold,
		ExcludeMethods: []string{
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/Watch",
		},
	}
}

// LoggingInterceptor logs completed RPCs with the caller's mesh identity.
type LoggingInterceptor struct {
	config *LoggingConfig
	logger *slog.Logger
}

// NewLoggingInterceptor returns a LoggingInterceptor for config.
func NewLoggingInterceptor(config *LoggingConfig) *LoggingInterceptor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.SlowRequestThreshold == 0 {
		config.SlowRequestThreshold = defaultSlowThreshold
	}
	return &LoggingInterceptor{config: config, logger: logger}
}

// UnaryServerInterceptor logs unary RPCs.
func (l *LoggingInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if slices.Contains(l.config.ExcludeMethods, info.FullMethod) {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		l.log(ctx, info.FullMethod, "unary", time.Since(start), err)
		return resp, err
	}
}

// StreamServerInterceptor logs streaming RPCs when they end.
func (l *LoggingInterceptor) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if slices.Contains(l.config.ExcludeMethods, info.FullMethod) {
			return handler(srv, ss)
		}
		start := time.Now()
		err := handler(srv, ss)
		l.log(ss.Context(), info.FullMethod, "stream", time.Since(start), err)
		return err
	}
}

func (l *LoggingInterceptor) log(ctx context.Context, method, requestType string, duration time.Duration, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	} else if duration > l.config.SlowRequestThreshold {
		level = slog.LevelWarn
	}

	attrs := []any{
		"method", method,
		"request_type", requestType,
		"duration_ms", duration.Milliseconds(),
		"code", status.Code(err).String(),
	}
	if name, ok := PeerName(ctx); ok {
		attrs = append(attrs, "client_identity", name)
	} else {
		attrs = append(attrs, "client_identity", "anonymous")
	}
	if state, ok := PeerState(ctx); ok && state.ServerName != "" {
		attrs = append(attrs, "sni", state.ServerName)
	}

	l.logger.Log(ctx, level, "gRPC request completed", attrs...)
}
