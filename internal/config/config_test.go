package config_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/meshtls/internal/config"
	domainerrors "github.com/sufield/meshtls/internal/core/errors"
	"github.com/sufield/meshtls/internal/creds"
	"github.com/sufield/meshtls/internal/creds/credstest"
)

type fixture struct {
	dir   string
	roots string
	key   string
	csr   string
	ent   *credstest.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	ent := credstest.NewCA(t).NewEntity(t, credstest.FooNS1)
	f := &fixture{
		dir:   dir,
		roots: filepath.Join(dir, "roots.pem"),
		key:   filepath.Join(dir, "key.p8"),
		csr:   filepath.Join(dir, "csr.der"),
		ent:   ent,
	}
	require.NoError(t, os.WriteFile(f.roots, ent.TrustAnchors, 0o600))
	require.NoError(t, os.WriteFile(f.key, ent.Key, 0o600))
	require.NoError(t, os.WriteFile(f.csr, credstest.FakeCSR, 0o600))
	return f
}

func (f *fixture) writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(f.dir, "meshtls.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func (f *fixture) validYAML() string {
	return fmt.Sprintf(`identity: %s
trust_roots_file: %s
key_file: %s
csr_file: %s
trust_domain: cluster.local
log:
  level: debug
  format: json
metrics:
  addr: 127.0.0.1:9090
serve:
  addr: 127.0.0.1:4143
  allowed_ids:
    - spiffe://cluster.local/ns/ns1/sa/bar
  shutdown_grace: 3s
`, credstest.FooNS1, f.roots, f.key, f.csr)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg, err := config.Load(config.NewViper(), f.writeConfig(t, f.validYAML()))
	require.NoError(t, err)

	assert.Equal(t, credstest.FooNS1, cfg.Identity.String())
	assert.Equal(t, f.roots, cfg.TrustRootsFile)
	assert.Equal(t, "cluster.local", cfg.TrustDomain)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
	assert.Equal(t, "127.0.0.1:4143", cfg.Serve.Addr)
	assert.Equal(t, []string{"spiffe://cluster.local/ns/ns1/sa/bar"}, cfg.Serve.AllowedIDs)
	assert.Equal(t, 3*time.Second, cfg.Serve.ShutdownGrace)
}

func TestLoad_Environment(t *testing.T) {
	f := newFixture(t)
	t.Setenv("MESHTLS_IDENTITY", credstest.BarNS1)
	t.Setenv("MESHTLS_TRUST_ROOTS_FILE", f.roots)
	t.Setenv("MESHTLS_KEY_FILE", f.key)
	t.Setenv("MESHTLS_LOG_LEVEL", "warn")

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, credstest.BarNS1, cfg.Identity.String())
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "default")
	assert.Empty(t, cfg.CSRFile)
	assert.Equal(t, 10*time.Second, cfg.Serve.ShutdownGrace, "default")
}

func TestLoad_EnvironmentLists(t *testing.T) {
	f := newFixture(t)
	t.Setenv("MESHTLS_IDENTITY", credstest.FooNS1)
	t.Setenv("MESHTLS_TRUST_ROOTS_FILE", f.roots)
	t.Setenv("MESHTLS_KEY_FILE", f.key)
	t.Setenv("MESHTLS_SERVE_ALLOWED_IDS", "spiffe://cluster.local/a,spiffe://cluster.local/b")

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"spiffe://cluster.local/a", "spiffe://cluster.local/b"}, cfg.Serve.AllowedIDs)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	f := newFixture(t)
	path := f.writeConfig(t, f.validYAML())
	t.Setenv("MESHTLS_LOG_FORMAT", "text")

	cfg, err := config.Load(config.NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name     string
		body     string
		contains []string
	}{
		{
			name:     "nothing set",
			body:     "log:\n  level: info\n",
			contains: []string{"Identity", "TrustRootsFile", "KeyFile"},
		},
		{
			name:     "invalid identity",
			body:     fmt.Sprintf("identity: \"*.ns1.svc\"\ntrust_roots_file: %s\nkey_file: %s\n", f.roots, f.key),
			contains: []string{"wildcards"},
		},
		{
			name:     "missing files",
			body:     fmt.Sprintf("identity: %s\ntrust_roots_file: %s\nkey_file: %s\n", credstest.FooNS1, filepath.Join(f.dir, "absent"), f.key),
			contains: []string{"TrustRootsFile", "file must exist"},
		},
		{
			name:     "bad enums and addresses",
			body:     fmt.Sprintf("identity: %s\ntrust_roots_file: %s\nkey_file: %s\nlog:\n  level: trace\nmetrics:\n  addr: nowhere\n", credstest.FooNS1, f.roots, f.key),
			contains: []string{"Level", "Addr"},
		},
		{
			name:     "allowed id without scheme",
			body:     fmt.Sprintf("identity: %s\ntrust_roots_file: %s\nkey_file: %s\nserve:\n  allowed_ids: [\"cluster.local/a\"]\n", credstest.FooNS1, f.roots, f.key),
			contains: []string{"AllowedIDs"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			path := filepath.Join(dir, "meshtls.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			cfg, err := config.Load(config.NewViper(), path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, domainerrors.IsConfigError(err))
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}

	t.Run("unreadable file", func(t *testing.T) {
		t.Parallel()
		_, err := config.Load(config.NewViper(), filepath.Join(f.dir, "absent.yaml"))
		require.ErrorIs(t, err, domainerrors.ErrConfig)
	})
}

func TestLoadMaterial(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg, err := config.Load(config.NewViper(), f.writeConfig(t, f.validYAML()))
	require.NoError(t, err)

	m, err := cfg.LoadMaterial()
	require.NoError(t, err)
	assert.Equal(t, string(f.ent.TrustAnchors), m.RootsPEM)
	assert.Equal(t, f.ent.Key, m.KeyPKCS8)
	assert.Equal(t, credstest.FakeCSR, m.CSR)

	// The material is accepted by the credential store.
	_, _, err = creds.Watch(cfg.Identity, m.RootsPEM, m.KeyPKCS8, m.CSR)
	require.NoError(t, err)
}

func TestLoadMaterial_KeyEncodings(t *testing.T) {
	t.Parallel()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	sec1, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "DER", data: pkcs8},
		{name: "PEM", data: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})},
		{name: "SEC 1 PEM", data: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1})},
		{name: "RSA PEM block", data: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte{1}}), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			require.NoError(t, os.WriteFile(f.key, tt.data, 0o600))
			cfg := &config.Config{TrustRootsFile: f.roots, KeyFile: f.key}

			m, err := cfg.LoadMaterial()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			parsed, err := x509.ParsePKCS8PrivateKey(m.KeyPKCS8)
			require.NoError(t, err)
			assert.True(t, key.Equal(parsed))
			assert.Nil(t, m.CSR)
		})
	}
}

func TestLoadMaterial_PEMCSR(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	csrPath := filepath.Join(f.dir, "csr.pem")
	require.NoError(t, os.WriteFile(csrPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: []byte("csr")}), 0o600))
	cfg := &config.Config{TrustRootsFile: f.roots, KeyFile: f.key, CSRFile: csrPath}

	m, err := cfg.LoadMaterial()
	require.NoError(t, err)
	assert.Equal(t, []byte("csr"), m.CSR)
}
