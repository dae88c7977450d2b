package spiffe

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"

	"github.com/sufield/meshtls/internal/core/domain"
)

// ErrNotCertified is returned before the first successful rotation.
var ErrNotCertified = errors.New("no certified identity yet")

// IdentitySource reports the identity currently presented by the proxy.
// *creds.Store satisfies it.
type IdentitySource interface {
	Current() domain.CertifiedIdentity
}

// SVIDSource presents the current certified identity as an X.509-SVID. The
// leaf must carry exactly one spiffe:// URI SAN.
type SVIDSource struct {
	identities IdentitySource
}

var _ x509svid.Source = (*SVIDSource)(nil)

// NewSVIDSource wraps identities.
func NewSVIDSource(identities IdentitySource) *SVIDSource {
	return &SVIDSource{identities: identities}
}

// GetX509SVID implements x509svid.Source.
func (s *SVIDSource) GetX509SVID() (*x509svid.SVID, error) {
	certified, ok := s.identities.Current().(*domain.Certified)
	if !ok {
		return nil, ErrNotCertified
	}

	id, err := x509svid.IDFromCert(certified.Leaf)
	if err != nil {
		return nil, fmt.Errorf("certified leaf is not an X.509-SVID: %w", err)
	}

	certs := make([]*x509.Certificate, 0, len(certified.Chain))
	certs = append(certs, certified.Leaf)
	for i, der := range certified.Intermediates() {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse intermediate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}

	return &x509svid.SVID{
		ID:           id,
		Certificates: certs,
		PrivateKey:   certified.Key,
	}, nil
}

// AuthorizePeer checks the peer of a completed handshake against authorizer
// and returns its SPIFFE ID. Anonymous peers are rejected.
func AuthorizePeer(state tls.ConnectionState, authorizer tlsconfig.Authorizer) (spiffeid.ID, error) {
	if len(state.PeerCertificates) == 0 {
		return spiffeid.ID{}, errors.New("peer presented no certificate")
	}
	if len(state.VerifiedChains) == 0 {
		return spiffeid.ID{}, errors.New("peer certificate was not verified")
	}

	id, err := x509svid.IDFromCert(state.PeerCertificates[0])
	if err != nil {
		return spiffeid.ID{}, fmt.Errorf("peer certificate has no SPIFFE ID: %w", err)
	}
	if authorizer == nil {
		authorizer = tlsconfig.AuthorizeAny()
	}
	if err := authorizer(id, state.VerifiedChains); err != nil {
		return spiffeid.ID{}, err
	}
	return id, nil
}

// ParseAuthorizer builds an authorizer from allowed SPIFFE IDs. With no IDs
// any member of trustDomain is authorized.
func ParseAuthorizer(trustDomain string, allowed []string) (tlsconfig.Authorizer, error) {
	if len(allowed) == 0 {
		td, err := spiffeid.TrustDomainFromString(trustDomain)
		if err != nil {
			return nil, fmt.Errorf("invalid trust domain %q: %w", trustDomain, err)
		}
		return tlsconfig.AuthorizeMemberOf(td), nil
	}

	ids := make([]spiffeid.ID, 0, len(allowed))
	for i, s := range allowed {
		id, err := spiffeid.FromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid SPIFFE ID at index %d (%q): %w", i, s, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 1 {
		return tlsconfig.AuthorizeID(ids[0]), nil
	}
	return tlsconfig.AuthorizeOneOf(ids...), nil
}
