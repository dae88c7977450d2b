package creds

import (
	"crypto/tls"
	"net"

	"github.com/sufield/meshtls/internal/core/domain"
	"github.com/sufield/meshtls/internal/watch"
)

// Snapshot is a client and server configuration published together. Both
// configurations are shared by every connection that captured them and must
// not be modified; Clone them to customize per connection.
type Snapshot struct {
	Client *tls.Config
	Server *tls.Config
}

// Receiver reads the latest snapshot published by a Store. Receivers are
// cheap to copy and safe for concurrent use; reads never block.
type Receiver struct {
	name domain.Name
	cell *watch.Cell[Snapshot]
}

func newReceiver(name domain.Name, cell *watch.Cell[Snapshot]) *Receiver {
	return &Receiver{name: name, cell: cell}
}

// Name returns the proxy's identity.
func (r *Receiver) Name() domain.Name {
	return r.name
}

// ClientConfig returns the latest client configuration.
func (r *Receiver) ClientConfig() *tls.Config {
	return r.cell.Load().Client
}

// ServerConfig returns the latest server configuration.
func (r *Receiver) ServerConfig() *tls.Config {
	return r.cell.Load().Server
}

// Snapshot returns the latest client/server pair and its revision.
func (r *Receiver) Snapshot() (*Snapshot, uint64) {
	return r.cell.LoadWithRevision()
}

// Changed returns a channel closed on the next publish.
func (r *Receiver) Changed() <-chan struct{} {
	return r.cell.Changed()
}

// Clone returns an independent handle on the same publish channel.
func (r *Receiver) Clone() *Receiver {
	return newReceiver(r.name, r.cell)
}

// Client wraps conn in a TLS client connection for serverName. The current
// client snapshot is captured once; a later rotation does not affect this
// connection.
func (r *Receiver) Client(conn net.Conn, serverName domain.Name) *tls.Conn {
	cfg := r.ClientConfig().Clone()
	cfg.ServerName = serverName.String()
	return tls.Client(conn, cfg)
}

// Server wraps conn in a TLS server connection using the current server
// snapshot.
func (r *Receiver) Server(conn net.Conn) *tls.Conn {
	return tls.Server(conn, r.ServerConfig())
}
