// Package certfile feeds certificates issued out of band into the credential
// store. It watches a PEM file holding the leaf followed by its
// intermediates and rotates the store whenever the file changes.
package certfile

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Rotator accepts newly issued certificates. *creds.Store satisfies it.
type Rotator interface {
	SetCertificate(leaf []byte, intermediates [][]byte, expiry time.Time) error
}

// Watcher reloads a certificate chain file into a Rotator.
type Watcher struct {
	path     string
	rotator  Rotator
	logger   *slog.Logger
	clock    clock.Clock
	debounce time.Duration

	mu   sync.Mutex
	last []byte
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets how long to wait after a file event before reloading.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New returns a watcher for the chain file at path.
func New(path string, rotator Rotator, opts ...Option) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		rotator:  rotator,
		logger:   slog.Default(),
		clock:    clock.NewClock(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("chain_file", w.path)
	return w
}

// Load reads the chain file and hands it to the rotator. An unchanged file
// is not handed over again.
func (w *Watcher) Load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read chain file: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last != nil && bytes.Equal(w.last, data) {
		return nil
	}

	leaf, intermediates, expiry, err := ParseChainPEM(data)
	if err != nil {
		return err
	}
	if err := w.rotator.SetCertificate(leaf, intermediates, expiry); err != nil {
		return err
	}
	w.last = data
	w.logger.Info("loaded certificate chain", "expiry", expiry, "intermediates", len(intermediates))
	return nil
}

// Run watches the directory holding the chain file, so atomic symlink swaps
// of mounted secrets are seen, and reloads after each burst of events. A
// missing or invalid file is logged and retried on the next event. Run
// returns when ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("could not watch %s: %w", dir, err)
	}

	if err := w.Load(); err != nil {
		w.logger.Warn("initial certificate load failed", "error", err)
	}

	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timerC:
			timerC = nil
			if err := w.Load(); err != nil {
				w.logger.Warn("certificate reload failed", "error", err)
			}
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.logger.Debug("chain file watch event", "event", event.String())
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 && timerC == nil {
				timerC = w.clock.After(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("chain file watcher error", "error", err)
		}
	}
}

// ParseChainPEM splits a PEM chain into the leaf, its intermediates and the
// leaf's expiry. Blocks other than CERTIFICATE are ignored.
func ParseChainPEM(data []byte) (leaf []byte, intermediates [][]byte, expiry time.Time, err error) {
	var ders [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			ders = append(ders, block.Bytes)
		}
	}
	if len(ders) == 0 {
		return nil, nil, time.Time{}, errors.New("no certificates in chain file")
	}

	cert, err := x509.ParseCertificate(ders[0])
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}
	return ders[0], ders[1:], cert.NotAfter, nil
}
