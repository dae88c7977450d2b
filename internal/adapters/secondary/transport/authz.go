package transport

import (
	"context"
	"log/slog"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sufield/meshtls/internal/adapters/secondary/spiffe"
)

// Authorizer admits RPCs whose TLS peer presents a SPIFFE ID accepted by a
// go-spiffe authorizer. Handshakes themselves accept anonymous clients, so
// this is where a server demands an identity.
type Authorizer struct {
	authorize tlsconfig.Authorizer
	logger    *slog.Logger
}

// NewAuthorizer returns an Authorizer. A nil authorize admits any SPIFFE ID.
func NewAuthorizer(authorize tlsconfig.Authorizer, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{authorize: authorize, logger: logger}
}

// Check returns a gRPC status error unless the peer of ctx is authorized.
func (a *Authorizer) Check(ctx context.Context, method string) error {
	state, ok := PeerState(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "connection is not mutual TLS")
	}
	id, err := spiffe.AuthorizePeer(state, a.authorize)
	if err != nil {
		a.logger.Warn("rejected caller", "method", method, "error", err)
		if len(state.PeerCertificates) == 0 {
			return status.Error(codes.Unauthenticated, "client certificate required")
		}
		return status.Error(codes.PermissionDenied, "caller is not authorized")
	}
	a.logger.Debug("authorized caller", "method", method, "spiffe_id", id.String())
	return nil
}

// UnaryInterceptor authorizes unary RPCs.
func (a *Authorizer) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := a.Check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor authorizes streaming RPCs.
func (a *Authorizer) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := a.Check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
