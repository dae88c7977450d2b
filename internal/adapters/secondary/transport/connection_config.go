package transport

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/keepalive"

	"github.com/sufield/meshtls/internal/creds"
)

// Connection timeout constants.
const (
	defaultConnectTimeout   = 20 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// Backoff configuration constants.
const (
	defaultBackoffMultiplier = 1.6
	defaultBackoffJitter     = 0.2
	defaultMaxBackoffDelay   = 30 * time.Second
)

// Keepalive constants.
const (
	defaultKeepaliveTime       = 10 * time.Second
	defaultKeepaliveTimeout    = 5 * time.Second
	defaultKeepaliveMinTime    = 5 * time.Second
	defaultMaxConnectionIdle   = 30 * time.Minute
	defaultMaxConcurrentStream = 1024
)

const defaultMaxMessageSize = 4 * 1024 * 1024 // 4MB

// ConnectionConfig configures gRPC client connections made with mesh
// credentials.
type ConnectionConfig struct {
	// ConnectTimeout bounds each connection attempt, TLS handshake included.
	ConnectTimeout time.Duration

	// BackoffConfig governs reconnection after failed attempts.
	BackoffConfig backoff.Config

	KeepaliveParams keepalive.ClientParameters

	MaxRecvMsgSize int
	MaxSendMsgSize int
}

// DefaultConnectionConfig returns the client settings used by meshtls.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ConnectTimeout: defaultConnectTimeout,
		BackoffConfig: backoff.Config{
			BaseDelay:  1.0 * time.Second,
			Multiplier: defaultBackoffMultiplier,
			Jitter:     defaultBackoffJitter,
			MaxDelay:   defaultMaxBackoffDelay,
		},
		KeepaliveParams: keepalive.ClientParameters{
			Time:                defaultKeepaliveTime,
			Timeout:             defaultKeepaliveTimeout,
			PermitWithoutStream: true,
		},
		MaxRecvMsgSize: defaultMaxMessageSize,
		MaxSendMsgSize: defaultMaxMessageSize,
	}
}

// ToDialOptions returns dial options for a client presenting the identity
// published through rx.
func (c *ConnectionConfig) ToDialOptions(rx *creds.Receiver) []grpc.DialOption {
	return []grpc.DialOption{
		DialOption(rx),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           c.BackoffConfig,
			MinConnectTimeout: c.ConnectTimeout,
		}),
		grpc.WithKeepaliveParams(c.KeepaliveParams),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(c.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(c.MaxSendMsgSize),
		),
	}
}

// ServerConfig configures a gRPC server terminating mesh TLS.
type ServerConfig struct {
	// HandshakeTimeout bounds the TLS handshake of each accepted connection.
	HandshakeTimeout time.Duration

	KeepaliveParams      keepalive.ServerParameters
	KeepalivePolicy      keepalive.EnforcementPolicy
	MaxConcurrentStreams uint32

	MaxRecvMsgSize int
	MaxSendMsgSize int
}

// DefaultServerConfig returns the server settings used by meshtls.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HandshakeTimeout: defaultHandshakeTimeout,
		KeepaliveParams: keepalive.ServerParameters{
			MaxConnectionIdle: defaultMaxConnectionIdle,
			Time:              defaultKeepaliveTime,
			Timeout:           defaultKeepaliveTimeout,
		},
		KeepalivePolicy: keepalive.EnforcementPolicy{
			MinTime:             defaultKeepaliveMinTime,
			PermitWithoutStream: true,
		},
		MaxConcurrentStreams: defaultMaxConcurrentStream,
		MaxRecvMsgSize:       defaultMaxMessageSize,
		MaxSendMsgSize:       defaultMaxMessageSize,
	}
}

// ToServerOptions returns server options for a server presenting the
// identity published through rx.
func (c *ServerConfig) ToServerOptions(rx *creds.Receiver) []grpc.ServerOption {
	return []grpc.ServerOption{
		ServerOption(rx),
		grpc.ConnectionTimeout(c.HandshakeTimeout),
		grpc.KeepaliveParams(c.KeepaliveParams),
		grpc.KeepaliveEnforcementPolicy(c.KeepalivePolicy),
		grpc.MaxConcurrentStreams(c.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(c.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(c.MaxSendMsgSize),
	}
}
