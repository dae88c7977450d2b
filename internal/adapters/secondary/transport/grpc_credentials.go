// Package transport carries mesh TLS credentials into gRPC clients and servers.
package transport

import (
	"context"
	"crypto/tls"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/sufield/meshtls/internal/creds"
)

// TransportCredentials adapts a creds.Receiver to gRPC. Every handshake
// reads the latest published snapshot, so certificate rotation reaches new
// gRPC connections without rebuilding clients or servers.
type TransportCredentials struct {
	rx         *creds.Receiver
	serverName string
}

var _ credentials.TransportCredentials = (*TransportCredentials)(nil)

// NewTransportCredentials returns gRPC credentials backed by rx. Clients
// verify the server against the dial authority with any port removed.
func NewTransportCredentials(rx *creds.Receiver) *TransportCredentials {
	return &TransportCredentials{rx: rx}
}

// ClientHandshake implements credentials.TransportCredentials.
func (c *TransportCredentials) ClientHandshake(ctx context.Context, authority string, rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	cfg := c.rx.ClientConfig()
	if c.serverName != "" {
		cfg = cfg.Clone()
		cfg.ServerName = c.serverName
	}
	return credentials.NewTLS(cfg).ClientHandshake(ctx, authority, rawConn)
}

// ServerHandshake implements credentials.TransportCredentials.
func (c *TransportCredentials) ServerHandshake(rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return credentials.NewTLS(c.rx.ServerConfig()).ServerHandshake(rawConn)
}

// Info implements credentials.TransportCredentials.
func (c *TransportCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{
		SecurityProtocol: "tls",
		ServerName:       c.serverName,
	}
}

// Clone implements credentials.TransportCredentials.
func (c *TransportCredentials) Clone() credentials.TransportCredentials {
	return &TransportCredentials{rx: c.rx.Clone(), serverName: c.serverName}
}

// OverrideServerName implements credentials.TransportCredentials.
//
// Deprecated: use grpc.WithAuthority instead.
func (c *TransportCredentials) OverrideServerName(serverName string) error {
	c.serverName = serverName
	return nil
}

// ServerOption installs credentials backed by rx on a gRPC server.
func ServerOption(rx *creds.Receiver) grpc.ServerOption {
	return grpc.Creds(NewTransportCredentials(rx))
}

// DialOption installs credentials backed by rx on a gRPC client.
func DialOption(rx *creds.Receiver) grpc.DialOption {
	return grpc.WithTransportCredentials(NewTransportCredentials(rx))
}

// PeerState returns the TLS state of the peer of an RPC.
func PeerState(ctx context.Context) (tls.ConnectionState, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return tls.ConnectionState{}, false
	}
	info, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return info.State, true
}

// PeerName returns the first DNS SAN of the peer's certificate, or false
// for anonymous peers.
func PeerName(ctx context.Context) (string, bool) {
	state, ok := PeerState(ctx)
	if !ok || len(state.PeerCertificates) == 0 || len(state.PeerCertificates[0].DNSNames) == 0 {
		return "", false
	}
	return state.PeerCertificates[0].DNSNames[0], true
}
