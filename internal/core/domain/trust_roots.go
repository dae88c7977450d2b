package domain

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	domainerrors "github.com/sufield/meshtls/internal/core/errors"
)

const pemTypeCertificate = "CERTIFICATE"

// TrustRoots holds the CA certificates trusted for both directions of mTLS.
// A TrustRoots value is never mutated after construction; every TLS
// configuration gets a fresh pool built from it.
type TrustRoots struct {
	certs   []*x509.Certificate
	skipped *multierror.Error
}

// NewTrustRoots returns an empty root set. Roots are added with
// AddParsableCertificates.
func NewTrustRoots() *TrustRoots {
	return &TrustRoots{}
}

// AddParsableCertificates adds every DER certificate that parses and reports
// how many were added and how many were skipped. Parse failures are kept for
// diagnostics and never abort the whole set.
func (r *TrustRoots) AddParsableCertificates(ders [][]byte) (added, skipped int) {
	for i, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			r.skipped = multierror.Append(r.skipped, fmt.Errorf("certificate %d: %w", i, err))
			skipped++
			continue
		}
		r.certs = append(r.certs, cert)
		added++
	}
	return added, skipped
}

// SkippedErrors returns the reasons certificates were skipped, or nil.
func (r *TrustRoots) SkippedErrors() error {
	return r.skipped.ErrorOrNil()
}

// ParseTrustRootsPEM decodes PEM-encoded trust anchors and keeps every
// parsable CERTIFICATE block. It fails with ErrInvalidTrustRoots when the
// input has no certificate blocks or none of them parse.
func ParseTrustRootsPEM(rootsPEM string, logger *slog.Logger) (*TrustRoots, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ders, err := decodeCertificateBlocks([]byte(rootsPEM))
	if err != nil {
		logger.Warn("invalid trust anchors file", "error", err)
		return nil, domainerrors.NewDomainError(domainerrors.ErrInvalidTrustRoots, err)
	}
	if len(ders) == 0 {
		logger.Warn("no valid certs in trust anchors file")
		return nil, domainerrors.NewDomainError(domainerrors.ErrInvalidTrustRoots,
			fmt.Errorf("no trust roots in PEM file"))
	}

	roots := NewTrustRoots()
	added, skipped := roots.AddParsableCertificates(ders)
	if skipped != 0 {
		logger.Warn("skipped invalid trust anchors", "skipped", skipped, "error", roots.SkippedErrors())
	}
	if added == 0 {
		return nil, domainerrors.NewDomainError(domainerrors.ErrInvalidTrustRoots,
			fmt.Errorf("no trust roots loaded: %w", roots.SkippedErrors()))
	}

	logger.Debug("trust roots loaded", "count", added)
	return roots, nil
}

// decodeCertificateBlocks returns the DER payload of every CERTIFICATE block.
// Other block types are ignored; trailing bytes that are not PEM are an error.
func decodeCertificateBlocks(data []byte) ([][]byte, error) {
	var ders [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemTypeCertificate {
			continue
		}
		ders = append(ders, block.Bytes)
	}
	if len(ders) == 0 && len(bytes.TrimSpace(rest)) != 0 {
		return nil, fmt.Errorf("trust anchors are not PEM encoded")
	}
	return ders, nil
}

// Pool returns a new pool holding every root. Callers may keep the pool; it
// is never modified afterwards.
func (r *TrustRoots) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, cert := range r.certs {
		pool.AddCert(cert)
	}
	return pool
}

// Certificates returns a copy of the root certificates.
func (r *TrustRoots) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, len(r.certs))
	copy(out, r.certs)
	return out
}

// Count returns the number of roots.
func (r *TrustRoots) Count() int {
	return len(r.certs)
}

// IsEmpty returns true if the set contains no roots.
func (r *TrustRoots) IsEmpty() bool {
	return len(r.certs) == 0
}
