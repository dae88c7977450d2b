package domain

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"time"
)

// CertifiedIdentity is the material a resolver can present. It is either
// Uninitialized (no certificate has been loaded yet) or *Certified.
type CertifiedIdentity interface {
	isCertifiedIdentity()
}

// Uninitialized is the state before the first successful rotation. Nothing
// can be presented from it.
type Uninitialized struct{}

func (Uninitialized) isCertifiedIdentity() {}

// Certified binds a validated chain to the local private key. A Certified
// value is superseded on rotation, never mutated.
type Certified struct {
	// Chain is the DER chain in presentation order: leaf first, then
	// intermediates.
	Chain [][]byte
	// Leaf is the parsed Chain[0].
	Leaf *x509.Certificate
	// Key signs handshakes for this identity.
	Key crypto.Signer
	// Expiry is the expiry reported by the issuer.
	Expiry time.Time
}

func (*Certified) isCertifiedIdentity() {}

// NewCertified builds a Certified from a chain. The chain must not be empty
// and its leaf must certify key's public key. The DER bytes are copied, so the
// caller may reuse its buffers afterwards.
func NewCertified(chain [][]byte, key crypto.Signer, expiry time.Time) (*Certified, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("certificate chain cannot be empty")
	}
	if key == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}
	pub, ok := leaf.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(key.Public()) {
		return nil, fmt.Errorf("leaf certificate does not match the private key")
	}

	owned := cloneChain(chain)

	return &Certified{
		Chain:  owned,
		Leaf:   leaf,
		Key:    key,
		Expiry: expiry,
	}, nil
}

// Intermediates returns a copy of the chain without the leaf.
func (c *Certified) Intermediates() [][]byte {
	return cloneChain(c.Chain[1:])
}

func cloneChain(chain [][]byte) [][]byte {
	owned := make([][]byte, len(chain))
	for i, der := range chain {
		owned[i] = bytes.Clone(der)
	}
	return owned
}
