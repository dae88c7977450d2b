package creds

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"

	domainerrors "github.com/sufield/meshtls/internal/core/errors"
	"github.com/sufield/meshtls/internal/core/ports"
)

// Key is the signing adapter for the proxy's long-lived private key. It only
// ever signs with the fixed ECDSA P-256/SHA-256 scheme. A Key is immutable
// and safe for concurrent use by any number of handshakes.
//
// Key implements crypto.Signer so crypto/tls can use it directly.
type Key struct {
	priv    *ecdsa.PrivateKey
	metrics ports.MetricsReporter
}

var (
	_ crypto.Signer = (*Key)(nil)
	_ ports.Signer  = (*Key)(nil)
)

// ParseKey decodes a PKCS#8 private key. Anything but an ECDSA P-256 key is
// rejected with ErrInvalidKey.
func ParseKey(pkcs8 []byte, metrics ports.MetricsReporter) (*Key, error) {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	k, err := x509.ParsePKCS8PrivateKey(pkcs8)
	if err != nil {
		return nil, domainerrors.NewDomainError(domainerrors.ErrInvalidKey, err)
	}
	priv, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, domainerrors.NewDomainError(domainerrors.ErrInvalidKey,
			fmt.Errorf("unsupported key type %T", k))
	}
	if priv.Curve != suite.Curve {
		return nil, domainerrors.NewDomainError(domainerrors.ErrInvalidKey,
			fmt.Errorf("unsupported curve %s", priv.Curve.Params().Name))
	}

	return &Key{priv: priv, metrics: metrics}, nil
}

// ChooseScheme returns the key as a Signer if the fixed scheme is offered.
func (k *Key) ChooseScheme(offered []tls.SignatureScheme) (ports.Signer, bool) {
	if !supportsScheme(offered) {
		return nil, false
	}
	return k, true
}

// SignMessage hashes message with SHA-256 and returns an ASN.1 ECDSA
// signature. Primitive errors are reported as ErrSigningFailed without
// detail.
func (k *Key) SignMessage(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return k.sign(rand.Reader, digest[:])
}

// Public implements crypto.Signer.
func (k *Key) Public() crypto.PublicKey {
	return &k.priv.PublicKey
}

// Sign implements crypto.Signer for crypto/tls. Only SHA-256 digests are
// accepted.
func (k *Key) Sign(rnd io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts == nil || opts.HashFunc() != suite.Hash || len(digest) != suite.Hash.Size() {
		k.metrics.RecordSigningFailure()
		return nil, domainerrors.ErrSigningFailed
	}
	return k.sign(rnd, digest)
}

func (k *Key) sign(rnd io.Reader, digest []byte) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	sig, err := ecdsa.SignASN1(rnd, k.priv, digest)
	if err != nil {
		k.metrics.RecordSigningFailure()
		return nil, domainerrors.ErrSigningFailed
	}
	return sig, nil
}

// Scheme returns the fixed signature scheme.
func (k *Key) Scheme() tls.SignatureScheme {
	return suite.SignatureScheme
}

// Algorithm returns the fixed public key algorithm.
func (k *Key) Algorithm() x509.PublicKeyAlgorithm {
	return suite.SignatureAlgorithm
}
