package creds

import (
	"crypto/tls"
	"errors"
	"log/slog"

	"github.com/sufield/meshtls/internal/core/domain"
	domainerrors "github.com/sufield/meshtls/internal/core/errors"
	"github.com/sufield/meshtls/internal/core/ports"
)

// Resolver answers "which certificate should be presented" for one
// CertifiedIdentity. Every rotation builds a new Resolver; a Resolver never
// changes what it presents.
type Resolver struct {
	material domain.CertifiedIdentity
	cert     *tls.Certificate // nil unless material is *domain.Certified
	logger   *slog.Logger
	metrics  ports.MetricsReporter
}

var _ ports.CertResolver = (*Resolver)(nil)

// NewResolver builds a resolver over material. A nil material is treated as
// domain.Uninitialized.
func NewResolver(material domain.CertifiedIdentity, logger *slog.Logger, metrics ports.MetricsReporter) *Resolver {
	if material == nil {
		material = domain.Uninitialized{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	r := &Resolver{
		material: material,
		logger:   logger,
		metrics:  metrics,
	}
	if c, ok := material.(*domain.Certified); ok {
		r.cert = &tls.Certificate{
			Certificate:                  c.Chain,
			PrivateKey:                   c.Key,
			Leaf:                         c.Leaf,
			SupportedSignatureAlgorithms: []tls.SignatureScheme{suite.SignatureScheme},
		}
	}
	return r
}

// ResolveClient returns the bound identity if the peer accepts the fixed
// signature scheme.
func (r *Resolver) ResolveClient(schemes []tls.SignatureScheme) *domain.Certified {
	c, reason := r.resolveClient(schemes)
	if c == nil {
		r.refused(ports.RoleClient, reason)
	}
	return c
}

// ResolveServer returns the bound identity only if a server name was
// requested, the leaf is valid for that name, and the fixed signature scheme
// is acceptable to the client. There is no fallback identity.
func (r *Resolver) ResolveServer(serverName string, schemes []tls.SignatureScheme) *domain.Certified {
	c, reason := r.resolveServer(serverName, schemes)
	if c == nil {
		r.refused(ports.RoleServer, reason)
	}
	return c
}

func (r *Resolver) resolveClient(schemes []tls.SignatureScheme) (*domain.Certified, string) {
	c, ok := r.material.(*domain.Certified)
	if !ok {
		return nil, ports.RefusedUninitialized
	}
	return r.checkScheme(c, schemes)
}

func (r *Resolver) resolveServer(serverName string, schemes []tls.SignatureScheme) (*domain.Certified, string) {
	if serverName == "" {
		r.logger.Debug("no SNI -> no certificate")
		return nil, ports.RefusedNoSNI
	}

	c, ok := r.material.(*domain.Certified)
	if !ok {
		return nil, ports.RefusedUninitialized
	}

	// The local certificate must be valid for the requested name.
	if err := c.Leaf.VerifyHostname(serverName); err != nil {
		r.logger.Debug("local certificate is not valid for SNI", "sni", serverName, "error", err)
		return nil, ports.RefusedSNIMismatch
	}

	return r.checkScheme(c, schemes)
}

func (r *Resolver) checkScheme(c *domain.Certified, schemes []tls.SignatureScheme) (*domain.Certified, string) {
	if !supportsScheme(schemes) {
		r.logger.Debug("signature scheme not supported -> no certificate")
		return nil, ports.RefusedUnsupportedScheme
	}
	return c, ""
}

func (r *Resolver) refused(role, reason string) {
	r.metrics.RecordResolutionRefused(role, reason)
}

// GetClientCertificate plugs the resolver into tls.Config. A refusal yields
// an empty certificate, so the client continues anonymously and the server
// decides whether that is acceptable.
func (r *Resolver) GetClientCertificate(info *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	if r.ResolveClient(info.SignatureSchemes) == nil {
		return &tls.Certificate{}, nil
	}
	return r.cert, nil
}

// GetCertificate plugs the resolver into tls.Config. A refusal fails the
// handshake with ErrResolutionRefused.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	c, reason := r.resolveServer(hello.ServerName, hello.SignatureSchemes)
	if c == nil {
		r.refused(ports.RoleServer, reason)
		return nil, domainerrors.NewDomainError(domainerrors.ErrResolutionRefused, errors.New(reason))
	}
	return r.cert, nil
}

// Material returns the identity the resolver was built over.
func (r *Resolver) Material() domain.CertifiedIdentity {
	return r.material
}
