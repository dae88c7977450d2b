package credstest

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"testing"
	"time"
)

// HandshakeResult is the outcome of both sides of one handshake.
type HandshakeResult struct {
	ClientErr   error
	ServerErr   error
	ClientState tls.ConnectionState
	ServerState tls.ConnectionState
}

// OK reports whether both sides completed the handshake.
func (r HandshakeResult) OK() bool {
	return r.ClientErr == nil && r.ServerErr == nil
}

// Handshake runs a client and a server handshake over an in-memory pipe.
// A side that fails closes its end so the peer never blocks.
func Handshake(t testing.TB, client func(net.Conn) *tls.Conn, server func(net.Conn) *tls.Conn) HandshakeResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, sc := net.Pipe()
	defer cc.Close()
	defer sc.Close()

	clientConn := client(cc)
	serverConn := server(sc)

	var res HandshakeResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serverConn.HandshakeContext(ctx); err != nil {
			res.ServerErr = err
			_ = sc.Close()
			return
		}
		res.ServerState = serverConn.ConnectionState()
	}()

	if err := clientConn.HandshakeContext(ctx); err != nil {
		res.ClientErr = err
		_ = cc.Close()
	} else {
		res.ClientState = clientConn.ConnectionState()
	}
	wg.Wait()

	return res
}
