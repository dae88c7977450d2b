// Package ports defines the capability interfaces between the credential core
// and its collaborators: the issuance driver, the TLS engine and metrics.
package ports

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/sufield/meshtls/internal/core/domain"
)

// Credentials is the surface the issuance driver talks to. Exactly one driver
// is expected to call SetCertificate at a time.
type Credentials interface {
	// Name returns the proxy's identity.
	Name() domain.Name

	// GenerateCSR returns the CSR configured at startup.
	GenerateCSR() []byte

	// SetCertificate validates a newly issued certificate for the local
	// identity and publishes new TLS configurations built from it.
	SetCertificate(leaf []byte, intermediates [][]byte, expiry time.Time) error
}

// Verifier checks a DER chain as a server certificate for name.
type Verifier interface {
	VerifyServerCertificate(chain [][]byte, name domain.Name, now time.Time) error
}

// CertResolver selects the material to present during a handshake. A nil
// result means no certificate is presented.
type CertResolver interface {
	ResolveClient(schemes []tls.SignatureScheme) *domain.Certified
	ResolveServer(serverName string, schemes []tls.SignatureScheme) *domain.Certified
}

// Signer signs handshake messages with the single supported scheme.
type Signer interface {
	// SignMessage hashes and signs message.
	SignMessage(message []byte) ([]byte, error)
	Scheme() tls.SignatureScheme
	Algorithm() x509.PublicKeyAlgorithm
}
