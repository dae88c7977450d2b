package creds

import (
	"crypto/tls"

	"github.com/sufield/meshtls/internal/core/domain"
)

// Intra-mesh peers all speak the same stack, so nothing here is negotiable:
// one protocol version, one cipher suite, the library's default key exchange
// groups and no session resumption.
//
// crypto/tls ignores CipherSuites for TLS 1.3, so the suite pin is
// declarative.
func baseConfig() *tls.Config {
	return &tls.Config{
		MinVersion:             suite.Version,
		MaxVersion:             suite.Version,
		CipherSuites:           []uint16{suite.CipherSuite},
		SessionTicketsDisabled: true,
	}
}

// clientConfig builds a client configuration that verifies servers against
// roots. With a nil resolver no client certificate is ever sent.
func clientConfig(roots *domain.TrustRoots, resolver *Resolver) *tls.Config {
	c := baseConfig()
	c.RootCAs = roots.Pool()
	if resolver != nil {
		c.GetClientCertificate = resolver.GetClientCertificate
	}
	return c
}

// serverConfig builds a server configuration that asks clients for a
// certificate and accepts anonymous clients or clients whose certificate
// chains to roots. Identity-level authorization happens above the handshake.
func serverConfig(roots *domain.TrustRoots, resolver *Resolver) *tls.Config {
	c := baseConfig()
	c.ClientAuth = tls.VerifyClientCertIfGiven
	c.ClientCAs = roots.Pool()
	c.GetCertificate = resolver.GetCertificate
	return c
}
