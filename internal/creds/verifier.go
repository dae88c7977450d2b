package creds

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/sufield/meshtls/internal/core/domain"
	"github.com/sufield/meshtls/internal/core/ports"
)

// serverCertVerifier performs the same server certificate check crypto/tls
// applies on the client side of a handshake built by clientConfig: chain to
// the trust roots, DNS SAN match for the name, server-auth key usage.
type serverCertVerifier struct {
	roots *domain.TrustRoots
}

var _ ports.Verifier = (*serverCertVerifier)(nil)

func newServerCertVerifier(roots *domain.TrustRoots) *serverCertVerifier {
	return &serverCertVerifier{roots: roots}
}

// VerifyServerCertificate verifies chain[0] for name using chain[1:] as
// intermediates.
func (v *serverCertVerifier) VerifyServerCertificate(chain [][]byte, name domain.Name, now time.Time) error {
	if len(chain) == 0 {
		return fmt.Errorf("certificate chain cannot be empty")
	}

	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return fmt.Errorf("failed to parse end-entity certificate: %w", err)
	}

	intermediates := x509.NewCertPool()
	for i, der := range chain[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("failed to parse intermediate certificate %d: %w", i, err)
		}
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		DNSName:       name.String(),
		Roots:         v.roots.Pool(),
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return err
	}
	return nil
}
