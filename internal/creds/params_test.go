package creds

import (
	"crypto"
	"crypto/elliptic"
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/meshtls/internal/core/domain"
)

func TestAlgorithmSuite(t *testing.T) {
	t.Parallel()

	require.NoError(t, suite.check())
	assert.Equal(t, tls.ECDSAWithP256AndSHA256, SignatureScheme())
	assert.Equal(t, uint16(tls.VersionTLS13), ProtocolVersion())
	assert.Equal(t, tls.TLS_CHACHA20_POLY1305_SHA256, CipherSuite())

	tests := []struct {
		name   string
		mutate func(*algorithmSuite)
	}{
		{name: "scheme", mutate: func(s *algorithmSuite) { s.SignatureScheme = tls.ECDSAWithP384AndSHA384 }},
		{name: "algorithm", mutate: func(s *algorithmSuite) { s.SignatureAlgorithm = x509.RSA }},
		{name: "curve", mutate: func(s *algorithmSuite) { s.Curve = elliptic.P384() }},
		{name: "hash", mutate: func(s *algorithmSuite) { s.Hash = crypto.SHA384 }},
		{name: "insecure suite", mutate: func(s *algorithmSuite) { s.CipherSuite = tls.TLS_RSA_WITH_RC4_128_SHA }},
		{name: "suite for another version", mutate: func(s *algorithmSuite) { s.CipherSuite = tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := suite
			tt.mutate(&s)
			assert.Error(t, s.check())
			assert.Panics(t, func() { mustBeConsistent(s) })
		})
	}
}

func TestConfigPolicy(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil, nil, nil)
	for name, cfg := range map[string]*tls.Config{
		"client": clientConfig(domain.NewTrustRoots(), r),
		"server": serverConfig(domain.NewTrustRoots(), r),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
			assert.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
			// Declarative only: crypto/tls ignores CipherSuites for TLS 1.3 and
			// may negotiate any TLS 1.3 suite.
			assert.Equal(t, []uint16{tls.TLS_CHACHA20_POLY1305_SHA256}, cfg.CipherSuites)
			assert.Nil(t, cfg.CurvePreferences, "library default key exchange groups")
			assert.True(t, cfg.SessionTicketsDisabled)
			assert.Nil(t, cfg.Certificates)
		})
	}

	server := serverConfig(domain.NewTrustRoots(), r)
	assert.Equal(t, tls.VerifyClientCertIfGiven, server.ClientAuth)
	assert.NotNil(t, server.ClientCAs)
	assert.NotNil(t, server.GetCertificate)

	client := clientConfig(domain.NewTrustRoots(), r)
	assert.NotNil(t, client.RootCAs)
	assert.NotNil(t, client.GetClientCertificate)
	assert.False(t, client.InsecureSkipVerify)

	anonymous := clientConfig(domain.NewTrustRoots(), nil)
	assert.Nil(t, anonymous.GetClientCertificate)
}
