package creds

import (
	"crypto"
	"crypto/elliptic"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"slices"
)

// algorithmSuite is the one set of algorithms the credential core speaks.
// Its fields must be kept in sync; mustBeConsistent checks them at init.
type algorithmSuite struct {
	SignatureScheme    tls.SignatureScheme
	SignatureAlgorithm x509.PublicKeyAlgorithm
	Curve              elliptic.Curve
	Hash               crypto.Hash
	Version            uint16
	CipherSuite        uint16
}

var suite = algorithmSuite{
	SignatureScheme:    tls.ECDSAWithP256AndSHA256,
	SignatureAlgorithm: x509.ECDSA,
	Curve:              elliptic.P256(),
	Hash:               crypto.SHA256,
	Version:            tls.VersionTLS13,
	CipherSuite:        tls.TLS_CHACHA20_POLY1305_SHA256,
}

func init() {
	mustBeConsistent(suite)
}

func mustBeConsistent(s algorithmSuite) {
	if err := s.check(); err != nil {
		panic(fmt.Sprintf("creds: inconsistent algorithm suite: %v", err))
	}
}

func (s algorithmSuite) check() error {
	if s.SignatureScheme != tls.ECDSAWithP256AndSHA256 {
		return fmt.Errorf("unsupported signature scheme %v", s.SignatureScheme)
	}
	if s.SignatureAlgorithm != x509.ECDSA {
		return fmt.Errorf("scheme %v needs ECDSA keys, got %v", s.SignatureScheme, s.SignatureAlgorithm)
	}
	if s.Curve != elliptic.P256() {
		return fmt.Errorf("scheme %v needs P-256, got %s", s.SignatureScheme, s.Curve.Params().Name)
	}
	if s.Hash != crypto.SHA256 {
		return fmt.Errorf("scheme %v needs SHA-256, got %v", s.SignatureScheme, s.Hash)
	}

	idx := slices.IndexFunc(tls.CipherSuites(), func(cs *tls.CipherSuite) bool {
		return cs.ID == s.CipherSuite
	})
	if idx < 0 {
		return fmt.Errorf("cipher suite %s is not a secure suite", tls.CipherSuiteName(s.CipherSuite))
	}
	if !slices.Contains(tls.CipherSuites()[idx].SupportedVersions, s.Version) {
		return fmt.Errorf("cipher suite %s does not support %s",
			tls.CipherSuiteName(s.CipherSuite), tls.VersionName(s.Version))
	}
	return nil
}

// supportsScheme reports whether the fixed scheme is among offered.
func supportsScheme(offered []tls.SignatureScheme) bool {
	return slices.Contains(offered, suite.SignatureScheme)
}

// SignatureScheme returns the only scheme used for handshake signatures.
func SignatureScheme() tls.SignatureScheme {
	return suite.SignatureScheme
}

// ProtocolVersion returns the only TLS version offered or accepted.
func ProtocolVersion() uint16 {
	return suite.Version
}

// CipherSuite returns the pinned cipher suite.
func CipherSuite() uint16 {
	return suite.CipherSuite
}
