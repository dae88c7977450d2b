package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/sufield/meshtls/internal/adapters/secondary/certfile"
	"github.com/sufield/meshtls/internal/config"
	"github.com/sufield/meshtls/internal/core/ports"
	"github.com/sufield/meshtls/internal/creds"
)

// identity is an opened credential store and the configuration it came from.
type identity struct {
	cfg    *config.Config
	store  *creds.Store
	rx     *creds.Receiver
	logger *slog.Logger
}

// openIdentity reads the key material named by cfg and starts a credential
// store for it. The store begins uncertified.
func openIdentity(cfg *config.Config, logger *slog.Logger, metrics ports.MetricsReporter) (*identity, error) {
	material, err := cfg.LoadMaterial()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	store, rx, err := creds.Watch(cfg.Identity, material.RootsPEM, material.KeyPKCS8, material.CSR,
		creds.WithLogger(logger),
		creds.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return &identity{cfg: cfg, store: store, rx: rx, logger: logger}, nil
}

// chainWatcher returns a watcher feeding the configured chain file into the
// store, or nil when no chain file is configured.
func (id *identity) chainWatcher() *certfile.Watcher {
	if id.cfg.ChainFile == "" {
		return nil
	}
	return certfile.New(id.cfg.ChainFile, id.store, certfile.WithLogger(id.logger))
}

// certifyFromFile loads the chain file once. It reports false without error
// when no chain file is configured or it does not exist yet.
func (id *identity) certifyFromFile() (bool, error) {
	w := id.chainWatcher()
	if w == nil {
		return false, nil
	}
	if err := w.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return true, nil
}
