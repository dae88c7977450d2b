package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sufield/meshtls/internal/adapters/metrics"
	"github.com/sufield/meshtls/internal/adapters/secondary/certfile"
	"github.com/sufield/meshtls/internal/adapters/secondary/spiffe"
	"github.com/sufield/meshtls/internal/adapters/secondary/transport"
	"github.com/sufield/meshtls/internal/config"
	"github.com/sufield/meshtls/internal/core/domain"
	"github.com/sufield/meshtls/internal/shutdown"
)

const readHeaderTimeout = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve mutual TLS with the configured identity",
		Long: `Start the identity daemon.

The daemon loads the trust anchors and private key, watches the chain file
for newly issued certificates and serves gRPC over mutual TLS. The health
service reports SERVING once a certificate has been accepted. Prometheus
metrics are exposed on metrics.addr when set.

Example:
  meshtls serve --config /etc/meshtls/meshtls.yaml --listen 0.0.0.0:4143`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "Address of the mutual TLS gRPC listener")
	flags.String("metrics-addr", "", "Address of the Prometheus metrics listener")
	flags.StringSlice("allowed-ids", nil, "SPIFFE IDs allowed to call this server")
	flags.Duration("shutdown-grace", 0, "Time allowed for graceful shutdown")
	bindFlags(opts.v, flags, map[string]string{
		config.KeyServeAddr:     "listen",
		config.KeyMetricsAddr:   "metrics-addr",
		config.KeyAllowedIDs:    "allowed-ids",
		config.KeyShutdownGrace: "shutdown-grace",
	})
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	return d.run(ctx)
}

// daemon is a running identity: the credential store, the gRPC server
// presenting it and the side listeners.
type daemon struct {
	id       *identity
	logger   *slog.Logger
	registry *prometheus.Registry

	grpcLis net.Listener
	grpcSrv *grpc.Server
	health  *health.Server

	metricsLis net.Listener
	httpSrv    *http.Server

	watcher     *certfile.Watcher
	coordinator *shutdown.Coordinator
}

// newDaemon opens the identity and binds every listener. Nothing is served
// until run.
func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	if cfg.Serve.Addr == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrConfig, config.KeyServeAddr)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	id, err := openIdentity(cfg, logger, metrics.NewPrometheusMetrics(registry))
	if err != nil {
		return nil, err
	}

	d := &daemon{
		id:          id,
		logger:      logger,
		registry:    registry,
		health:      health.NewServer(),
		watcher:     id.chainWatcher(),
		coordinator: shutdown.NewCoordinator(cfg.Serve.ShutdownGrace, logger),
	}

	rpcLog := transport.NewLoggingInterceptor(transport.DefaultLoggingConfig(logger))
	unary := []grpc.UnaryServerInterceptor{rpcLog.UnaryServerInterceptor()}
	stream := []grpc.StreamServerInterceptor{rpcLog.StreamServerInterceptor()}
	if cfg.TrustDomain != "" {
		authorize, err := spiffe.ParseAuthorizer(cfg.TrustDomain, cfg.Serve.AllowedIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		authz := transport.NewAuthorizer(authorize, logger)
		unary = append(unary, authz.UnaryInterceptor())
		stream = append(stream, authz.StreamInterceptor())
	}

	serverOpts := transport.DefaultServerConfig().ToServerOptions(id.rx)
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)
	d.grpcSrv = grpc.NewServer(serverOpts...)
	healthpb.RegisterHealthServer(d.grpcSrv, d.health)

	d.grpcLis, err = net.Listen("tcp", cfg.Serve.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", ErrRuntime, cfg.Serve.Addr, err)
	}
	d.coordinator.Register("grpc", stopGRPC(d.grpcSrv))

	if cfg.Metrics.Addr != "" {
		d.metricsLis, err = net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			_ = d.grpcLis.Close()
			return nil, fmt.Errorf("%w: failed to listen on %s: %v", ErrRuntime, cfg.Metrics.Addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		d.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
		d.coordinator.Register("metrics", shutdown.StopFunc(d.httpSrv.Shutdown))
	}

	return d, nil
}

// run serves until ctx is done or a listener fails, then shuts everything
// down within the grace period.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() {
		d.logger.Info("serving mutual TLS", "addr", d.grpcLis.Addr().String(), "identity", d.id.cfg.Identity.String())
		if err := d.grpcSrv.Serve(d.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	if d.httpSrv != nil {
		go func() {
			d.logger.Info("serving metrics", "addr", d.metricsLis.Addr().String())
			if err := d.httpSrv.Serve(d.metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if d.watcher != nil {
		go func() {
			if err := d.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("chain watcher: %w", err)
			}
		}()
	} else {
		d.logger.Warn("no chain file configured; server handshakes are refused until a certificate is set")
	}

	go d.trackReadiness(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown requested")
	case err := <-errCh:
		d.logger.Error("serving failed", "error", err)
		runErr = fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	cancel()

	d.health.Shutdown()
	if err := d.coordinator.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return runErr
}

// trackReadiness reports SERVING on the health service while a certificate
// is published.
func (d *daemon) trackReadiness(ctx context.Context) {
	for {
		changed := d.id.rx.Changed()

		status := healthpb.HealthCheckResponse_NOT_SERVING
		if _, ok := d.id.store.Current().(*domain.Certified); ok {
			status = healthpb.HealthCheckResponse_SERVING
		}
		d.health.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

func stopGRPC(srv *grpc.Server) shutdown.StopFunc {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}
}
