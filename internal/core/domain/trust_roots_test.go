package domain_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/meshtls/internal/core/domain"
	domainerrors "github.com/sufield/meshtls/internal/core/errors"
)

func TestParseTrustRootsPEM(t *testing.T) {
	t.Parallel()

	t.Run("single root", func(t *testing.T) {
		t.Parallel()
		der, _ := createCA(t)

		roots, err := domain.ParseTrustRootsPEM(string(encodeCert(der)), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, roots.Count())
		assert.False(t, roots.IsEmpty())
		assert.NoError(t, roots.SkippedErrors())
	})

	t.Run("other block types are ignored", func(t *testing.T) {
		t.Parallel()
		der, _ := createCA(t)

		var buf bytes.Buffer
		_ = pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: []byte("not a certificate")})
		buf.Write(encodeCert(der))

		roots, err := domain.ParseTrustRootsPEM(buf.String(), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, roots.Count())
	})

	failures := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "whitespace", input: "  \n\t"},
		{name: "not PEM", input: "definitely not a certificate"},
		{name: "no certificate blocks", input: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}}))},
		{name: "only unparsable certificates", input: string(encodeCert([]byte("garbage")))},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			roots, err := domain.ParseTrustRootsPEM(tt.input, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, domainerrors.ErrInvalidTrustRoots)
			assert.True(t, domainerrors.IsConfigError(err))
			assert.Nil(t, roots)
		})
	}
}

func TestParseTrustRootsPEM_PartialParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		valid   int
		invalid int
	}{
		{valid: 1, invalid: 0},
		{valid: 1, invalid: 2},
		{valid: 3, invalid: 1},
		{valid: 0, invalid: 1},
		{valid: 0, invalid: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d valid %d invalid", tt.valid, tt.invalid), func(t *testing.T) {
			t.Parallel()

			var ders [][]byte
			var buf bytes.Buffer
			for i := 0; i < tt.valid; i++ {
				der, _ := createCA(t)
				ders = append(ders, der)
				buf.Write(encodeCert(der))
			}
			for i := 0; i < tt.invalid; i++ {
				junk := []byte(fmt.Sprintf("junk %d", i))
				ders = append(ders, junk)
				buf.Write(encodeCert(junk))
			}

			added, skipped := domain.NewTrustRoots().AddParsableCertificates(ders)
			assert.Equal(t, tt.valid, added)
			assert.Equal(t, tt.invalid, skipped)

			roots, err := domain.ParseTrustRootsPEM(buf.String(), nil)
			if tt.valid == 0 {
				require.ErrorIs(t, err, domainerrors.ErrInvalidTrustRoots)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.valid, roots.Count())
			if tt.invalid > 0 {
				assert.Error(t, roots.SkippedErrors())
			}
		})
	}
}

func TestTrustRoots_Pool(t *testing.T) {
	t.Parallel()

	caDER, caKey := createCA(t)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	roots, err := domain.ParseTrustRootsPEM(string(encodeCert(caDER)), nil)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafDER := createLeaf(t, ca, caKey, &leafKey.PublicKey, "web.default.svc")
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	_, err = leaf.Verify(x509.VerifyOptions{Roots: roots.Pool(), DNSName: "web.default.svc"})
	require.NoError(t, err)

	// Every call builds an independent pool.
	assert.NotSame(t, roots.Pool(), roots.Pool())

	certs := roots.Certificates()
	require.Len(t, certs, 1)
	certs[0] = nil
	assert.NotNil(t, roots.Certificates()[0])
}

func createCA(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der, key
}

func createLeaf(t *testing.T, ca *x509.Certificate, caKey *ecdsa.PrivateKey, pub *ecdsa.PublicKey, dnsName string) []byte {
	t.Helper()

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: dnsName},
		DNSNames:     []string{dnsName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, pub, caKey)
	require.NoError(t, err)
	return der
}

func encodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
