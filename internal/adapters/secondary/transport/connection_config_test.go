package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sufield/meshtls/internal/adapters/secondary/transport"
	"github.com/sufield/meshtls/internal/creds/credstest"
)

func TestDefaultConnectionConfig(t *testing.T) {
	t.Parallel()

	config := transport.DefaultConnectionConfig()

	assert.Equal(t, 20*time.Second, config.ConnectTimeout)
	assert.Equal(t, 1.0*time.Second, config.BackoffConfig.BaseDelay)
	assert.Equal(t, 1.6, config.BackoffConfig.Multiplier)
	assert.Equal(t, 0.2, config.BackoffConfig.Jitter)
	assert.Equal(t, 30*time.Second, config.BackoffConfig.MaxDelay)
	assert.Equal(t, 10*time.Second, config.KeepaliveParams.Time)
	assert.Equal(t, 5*time.Second, config.KeepaliveParams.Timeout)
	assert.True(t, config.KeepaliveParams.PermitWithoutStream)
	assert.Equal(t, 4*1024*1024, config.MaxRecvMsgSize)
	assert.Equal(t, 4*1024*1024, config.MaxSendMsgSize)
}

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	config := transport.DefaultServerConfig()

	assert.Equal(t, 10*time.Second, config.HandshakeTimeout)
	assert.Equal(t, 30*time.Minute, config.KeepaliveParams.MaxConnectionIdle)
	assert.Less(t, config.KeepaliveParams.Timeout, config.KeepaliveParams.Time)
	// Clients ping every KeepaliveParams.Time; the policy must not punish that.
	assert.LessOrEqual(t, config.KeepalivePolicy.MinTime, transport.DefaultConnectionConfig().KeepaliveParams.Time)
	assert.True(t, config.KeepalivePolicy.PermitWithoutStream)
	assert.Equal(t, uint32(1024), config.MaxConcurrentStreams)
}

func TestConnectionConfigBackoffValidation(t *testing.T) {
	t.Parallel()

	config := transport.DefaultConnectionConfig()

	assert.Greater(t, config.BackoffConfig.Multiplier, 1.0)
	assert.LessOrEqual(t, config.BackoffConfig.Jitter, 1.0)
	assert.GreaterOrEqual(t, config.BackoffConfig.Jitter, 0.0)
	assert.Greater(t, config.BackoffConfig.MaxDelay, config.BackoffConfig.BaseDelay)
}

func TestConfigOptionsCarryMeshCredentials(t *testing.T) {
	t.Parallel()

	ca := credstest.NewCA(t)
	foo := ca.NewEntity(t, credstest.FooNS1)
	bar := ca.NewEntity(t, credstest.BarNS1)
	fooStore, fooRx := credstest.ForTest(t, foo)
	barStore, barRx := credstest.ForTest(t, bar)
	credstest.Certify(t, fooStore, foo)
	credstest.Certify(t, barStore, bar)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(transport.DefaultServerConfig().ToServerOptions(fooRx)...)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	opts := append(transport.DefaultConnectionConfig().ToDialOptions(barRx),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	conn, err := grpc.NewClient("passthrough:///"+credstest.FooNS1, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
