// Package creds turns a rotating X.509 identity into hot-swappable TLS
// client and server configurations.
//
// A Store is the only writer of identity state. Every successful rotation
// builds a fresh Resolver and a fresh pair of *tls.Config values and
// publishes them together; Receivers hand the latest pair to new
// connections. Published configurations are never modified.
package creds

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/sufield/meshtls/internal/core/domain"
	domainerrors "github.com/sufield/meshtls/internal/core/errors"
	"github.com/sufield/meshtls/internal/core/ports"
	"github.com/sufield/meshtls/internal/watch"
)

// ExpiryWarningWindow is how close to expiry an accepted certificate is
// logged as expiring soon.
const ExpiryWarningWindow = 10 * time.Minute

// Store owns the identity name, CSR, private key and trust roots, and
// publishes TLS configurations for the current certified identity.
type Store struct {
	name     domain.Name
	roots    *domain.TrustRoots
	verifier ports.Verifier
	key      *Key
	csr      []byte

	cell *watch.Cell[Snapshot]

	mu      sync.Mutex // serializes rotations
	current domain.CertifiedIdentity

	logger  *slog.Logger
	clock   clock.Clock
	metrics ports.MetricsReporter
}

var _ ports.Credentials = (*Store)(nil)

// Option configures a Store.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	clock   clock.Clock
	metrics ports.MetricsReporter
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used as the verification time.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetrics sets the metrics reporter.
func WithMetrics(m ports.MetricsReporter) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Watch parses the startup material and publishes the initial snapshot: a
// client configuration that never presents a certificate and a server
// configuration whose resolver refuses every handshake. It fails with
// ErrInvalidTrustRoots or ErrInvalidKey and leaves nothing behind on error.
func Watch(name domain.Name, rootsPEM string, keyPKCS8, csr []byte, opts ...Option) (*Store, *Receiver, error) {
	o := options{
		logger:  slog.Default(),
		clock:   clock.NewClock(),
		metrics: ports.NopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if name.IsZero() {
		return nil, nil, domainerrors.NewDomainError(domainerrors.ErrConfig,
			fmt.Errorf("identity name is required"))
	}

	logger := o.logger.With("identity", name.String())

	roots, err := domain.ParseTrustRootsPEM(rootsPEM, logger)
	if err != nil {
		return nil, nil, err
	}

	key, err := ParseKey(keyPKCS8, o.metrics)
	if err != nil {
		return nil, nil, err
	}

	uninitialized := NewResolver(domain.Uninitialized{}, logger, o.metrics)
	initial := &Snapshot{
		// No certificate yet: the client stays anonymous until the first
		// rotation publishes a configuration with a client resolver.
		Client: clientConfig(roots, nil),
		// The server resolver refuses everything, so server handshakes fail.
		Server: serverConfig(roots, uninitialized),
	}

	ownedCSR := make([]byte, len(csr))
	copy(ownedCSR, csr)

	s := &Store{
		name:     name,
		roots:    roots,
		verifier: newServerCertVerifier(roots),
		key:      key,
		csr:      ownedCSR,
		cell:     watch.New(initial),
		current:  domain.Uninitialized{},
		logger:   logger,
		clock:    o.clock,
		metrics:  o.metrics,
	}
	s.metrics.RecordPublished(s.cell.Revision())

	logger.Debug("credential store initialized", "roots", roots.Count())
	return s, newReceiver(name, s.cell), nil
}

// Name returns the proxy's identity.
func (s *Store) Name() domain.Name {
	return s.name
}

// CurrentCSR returns the CSR configured at startup.
func (s *Store) CurrentCSR() []byte {
	out := make([]byte, len(s.csr))
	copy(out, s.csr)
	return out
}

// GenerateCSR returns the CSR configured at startup. The CSR never changes
// because the key never rotates.
func (s *Store) GenerateCSR() []byte {
	return s.CurrentCSR()
}

// Roots returns the trust roots.
func (s *Store) Roots() *domain.TrustRoots {
	return s.roots
}

// Current returns the identity informing the latest snapshot.
func (s *Store) Current() domain.CertifiedIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Revision returns the revision of the latest published snapshot.
func (s *Store) Revision() uint64 {
	return s.cell.Revision()
}

// Receiver returns a new reader of this store's snapshots.
func (s *Store) Receiver() *Receiver {
	return newReceiver(s.name, s.cell)
}

// SetCertificate validates a newly issued certificate for the local identity
// and publishes new client and server configurations that present it. The
// previous snapshot stays in place if validation fails.
func (s *Store) SetCertificate(leaf []byte, intermediates [][]byte, expiry time.Time) error {
	start := s.clock.Now()
	logger := s.logger.With("rotation_id", uuid.NewString())

	chain := make([][]byte, 0, len(intermediates)+1)
	chain = append(chain, leaf)
	chain = append(chain, intermediates...)

	if err := s.validateAsServer(chain); err != nil {
		s.metrics.RecordRotation(false, s.clock.Since(start))
		logger.Warn("rejected certificate", "error", err)
		return domainerrors.NewDomainError(domainerrors.ErrCertificateInvalid, err)
	}

	certified, err := domain.NewCertified(chain, s.key, expiry)
	if err != nil {
		s.metrics.RecordRotation(false, s.clock.Since(start))
		return domainerrors.NewDomainError(domainerrors.ErrCertificateInvalid, err)
	}

	resolver := NewResolver(certified, logger, s.metrics)
	next := &Snapshot{
		Client: clientConfig(s.roots, resolver),
		Server: serverConfig(s.roots, resolver),
	}

	s.mu.Lock()
	s.current = certified
	rev := s.cell.Store(next)
	s.mu.Unlock()

	s.metrics.RecordRotation(true, s.clock.Since(start))
	s.metrics.RecordCertificateExpiry(s.name.String(), expiry)
	s.metrics.RecordPublished(rev)

	logger.Info("certified",
		"expiry", expiry,
		"intermediates", len(intermediates),
		"revision", rev)
	if remaining := expiry.Sub(start); remaining < ExpiryWarningWindow {
		logger.Warn("certificate expires soon", "remaining", remaining.Round(time.Second))
	}
	return nil
}

// validateAsServer checks that the chain is valid for the names this proxy
// terminates TLS for. It reuses server certificate verification on the
// assumption that server validation is at least as strict as client
// validation; if a stricter client policy is ever added, it belongs here.
func (s *Store) validateAsServer(chain [][]byte) error {
	return s.verifier.VerifyServerCertificate(chain, s.name, s.clock.Now())
}
