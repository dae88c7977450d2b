// Package credstest builds in-memory certificate authorities and identities
// for tests of the credential store and its consumers.
package credstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sufield/meshtls/internal/core/domain"
	"github.com/sufield/meshtls/internal/creds"
)

// Default identities used across tests.
const (
	FooNS1 = "foo.ns1.serviceaccount.identity.mesh.cluster.local"
	BarNS1 = "bar.ns1.serviceaccount.identity.mesh.cluster.local"
)

// FakeCSR is the CSR handed to stores built by this package.
var FakeCSR = []byte("fake CSR")

var serials atomic.Int64

// CA is a certificate authority that can issue intermediates and leaves.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	// DER is Cert.Raw.
	DER []byte
}

// NewCA creates a self-signed root valid from an hour ago for a day.
func NewCA(t testing.TB) *CA {
	t.Helper()

	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: "identity.mesh.cluster.local", Organization: []string{"Test CA"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: key, DER: der}
}

// Intermediate issues an intermediate CA signed by ca.
func (ca *CA) Intermediate(t testing.TB) *CA {
	t.Helper()

	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: "intermediate.identity.mesh.cluster.local"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: key, DER: der}
}

// PEM returns the CA certificate PEM encoded.
func (ca *CA) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.DER})
}

// LeafOptions tweaks issued leaves.
type LeafOptions struct {
	DNSNames  []string
	URIs      []*url.URL
	NotBefore time.Time
	NotAfter  time.Time
}

// Issue signs a leaf for pub. Zero validity bounds default to an hour ago
// and an hour from now.
func (ca *CA) Issue(t testing.TB, pub *ecdsa.PublicKey, opts LeafOptions) []byte {
	t.Helper()

	notBefore, notAfter := opts.NotBefore, opts.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	if notAfter.IsZero() {
		notAfter = time.Now().Add(time.Hour)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              opts.DNSNames,
		URIs:                  opts.URIs,
	}
	if len(opts.DNSNames) > 0 {
		tmpl.Subject.CommonName = opts.DNSNames[0]
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, pub, ca.Key)
	require.NoError(t, err)
	return der
}

// Entity is one identity: its name, the roots it trusts, its PKCS#8 key and
// a leaf issued for its name.
type Entity struct {
	Name          string
	TrustAnchors  []byte
	Key           []byte
	PrivateKey    *ecdsa.PrivateKey
	Leaf          []byte
	Intermediates [][]byte
	Expiry        time.Time
	CA            *CA

	issuer *CA
}

// NewEntity issues a leaf for name directly from ca.
func (ca *CA) NewEntity(t testing.TB, name string) *Entity {
	t.Helper()

	key := newKey(t)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	leaf := ca.Issue(t, &key.PublicKey, LeafOptions{DNSNames: []string{name}, NotAfter: expiry})

	return &Entity{
		Name:         name,
		TrustAnchors: ca.PEM(),
		Key:          pkcs8,
		PrivateKey:   key,
		Leaf:         leaf,
		Expiry:       expiry,
		CA:           ca,
		issuer:       ca,
	}
}

// NewEntityWithIntermediate issues a leaf for name from an intermediate of
// root. The returned entity trusts root only.
func NewEntityWithIntermediate(t testing.TB, root *CA, name string) *Entity {
	t.Helper()

	inter := root.Intermediate(t)
	ent := inter.NewEntity(t, name)
	ent.TrustAnchors = root.PEM()
	ent.Intermediates = [][]byte{inter.DER}
	ent.CA = root
	return ent
}

// WithSPIFFEID reissues ent's leaf from the same issuer with spiffeID as a
// URI SAN next to the DNS name.
func (ent *Entity) WithSPIFFEID(t testing.TB, spiffeID string) *Entity {
	t.Helper()

	u, err := url.Parse(spiffeID)
	require.NoError(t, err)

	ent.Leaf = ent.issuer.Issue(t, &ent.PrivateKey.PublicKey, LeafOptions{
		DNSNames: []string{ent.Name},
		URIs:     []*url.URL{u},
		NotAfter: ent.Expiry,
	})
	return ent
}

// ChainPEM encodes the leaf followed by the intermediates.
func (ent *Entity) ChainPEM() []byte {
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ent.Leaf})
	for _, der := range ent.Intermediates {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	return out
}

// ForTest builds a store and receiver for ent. It fails the test if the
// entity's material is rejected.
func ForTest(t testing.TB, ent *Entity, opts ...creds.Option) (*creds.Store, *creds.Receiver) {
	t.Helper()

	store, rx, err := creds.Watch(domain.MustName(ent.Name), string(ent.TrustAnchors), ent.Key, FakeCSR, opts...)
	require.NoError(t, err, "credentials must be valid")
	return store, rx
}

// DefaultForTest builds a store and receiver for a fresh FooNS1 entity.
func DefaultForTest(t testing.TB, opts ...creds.Option) (*creds.Store, *creds.Receiver, *Entity) {
	t.Helper()

	ent := NewCA(t).NewEntity(t, FooNS1)
	store, rx := ForTest(t, ent, opts...)
	return store, rx, ent
}

// Certify loads ent's own leaf into store.
func Certify(t testing.TB, store *creds.Store, ent *Entity) {
	t.Helper()
	require.NoError(t, store.SetCertificate(ent.Leaf, ent.Intermediates, ent.Expiry))
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func nextSerial() *big.Int {
	return big.NewInt(serials.Add(1))
}
