// Package spiffe exposes the credential store to go-spiffe consumers: the
// trust roots as an X.509 bundle source, the current certified identity as an
// X.509-SVID source, and SPIFFE ID authorization of verified peers.
package spiffe

import (
	"fmt"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/meshtls/internal/core/domain"
)

// BundleSource serves the proxy's trust roots as the bundle of a single
// trust domain.
type BundleSource struct {
	bundle *x509bundle.Bundle
}

var _ x509bundle.Source = (*BundleSource)(nil)

// NewBundleSource builds a bundle for trustDomain from roots.
func NewBundleSource(trustDomain string, roots *domain.TrustRoots) (*BundleSource, error) {
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return nil, fmt.Errorf("invalid trust domain %q: %w", trustDomain, err)
	}
	if roots == nil || roots.IsEmpty() {
		return nil, fmt.Errorf("trust domain %q has no roots", td)
	}
	return &BundleSource{bundle: x509bundle.FromX509Authorities(td, roots.Certificates())}, nil
}

// TrustDomain returns the trust domain the bundle belongs to.
func (s *BundleSource) TrustDomain() spiffeid.TrustDomain {
	return s.bundle.TrustDomain()
}

// GetX509BundleForTrustDomain implements x509bundle.Source.
func (s *BundleSource) GetX509BundleForTrustDomain(td spiffeid.TrustDomain) (*x509bundle.Bundle, error) {
	if td != s.bundle.TrustDomain() {
		return nil, fmt.Errorf("no X.509 bundle for trust domain %q", td)
	}
	return s.bundle, nil
}
