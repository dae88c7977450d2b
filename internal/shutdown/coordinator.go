// Package shutdown stops the proxy's listeners within a grace period.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DefaultGracePeriod is the default maximum time to wait for graceful shutdown.
const DefaultGracePeriod = 30 * time.Second

// Stopper is a resource that can be stopped gracefully. Stop must return
// once ctx is done.
type Stopper interface {
	Stop(ctx context.Context) error
}

// StopFunc adapts a function to Stopper.
type StopFunc func(ctx context.Context) error

// Stop implements Stopper.
func (f StopFunc) Stop(ctx context.Context) error {
	return f(ctx)
}

type registration struct {
	name    string
	stopper Stopper
}

// Coordinator stops every registered resource concurrently.
type Coordinator struct {
	gracePeriod time.Duration
	logger      *slog.Logger

	mu             sync.Mutex
	registered     []registration
	isShuttingDown bool

	shutdownOnce sync.Once
	err          error
}

// NewCoordinator creates a coordinator. A non-positive grace period uses
// DefaultGracePeriod.
func NewCoordinator(gracePeriod time.Duration, logger *slog.Logger) *Coordinator {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{gracePeriod: gracePeriod, logger: logger}
}

// Register adds a resource. Registrations after Shutdown has started are
// ignored.
func (c *Coordinator) Register(name string, s Stopper) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s != nil && !c.isShuttingDown {
		c.registered = append(c.registered, registration{name: name, stopper: s})
	}
}

// Shutdown stops every resource and returns their combined errors. Only the
// first call does any work; later calls return the same result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.isShuttingDown = true
		registered := c.registered
		c.mu.Unlock()

		c.logger.Info("starting graceful shutdown", "grace_period", c.gracePeriod, "resources", len(registered))

		graceCtx, cancel := context.WithTimeout(ctx, c.gracePeriod)
		defer cancel()

		var (
			wg     sync.WaitGroup
			errMu  sync.Mutex
			result *multierror.Error
		)
		for _, r := range registered {
			wg.Add(1)
			go func(r registration) {
				defer wg.Done()
				if err := r.stopper.Stop(graceCtx); err != nil {
					errMu.Lock()
					result = multierror.Append(result, fmt.Errorf("%s: %w", r.name, err))
					errMu.Unlock()
				}
			}(r)
		}
		wg.Wait()

		c.err = result.ErrorOrNil()
		if c.err != nil {
			c.logger.Error("shutdown finished with errors", "error", c.err)
			return
		}
		c.logger.Info("graceful shutdown completed")
	})
	return c.err
}
