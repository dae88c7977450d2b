// Package config loads the proxy's identity configuration from a file, the
// environment and command-line flags, and reads the key material it names.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/sufield/meshtls/internal/core/domain"
	domainerrors "github.com/sufield/meshtls/internal/core/errors"
)

// EnvPrefix prefixes every environment variable, e.g. MESHTLS_IDENTITY or
// MESHTLS_LOG_LEVEL.
const EnvPrefix = "MESHTLS"

// Configuration keys.
const (
	KeyIdentity       = "identity"
	KeyTrustRootsFile = "trust_roots_file"
	KeyKeyFile        = "key_file"
	KeyCSRFile        = "csr_file"
	KeyChainFile      = "chain_file"
	KeyTrustDomain    = "trust_domain"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyMetricsAddr    = "metrics.addr"
	KeyServeAddr      = "serve.addr"
	KeyAllowedIDs     = "serve.allowed_ids"
	KeyShutdownGrace  = "serve.shutdown_grace"
)

// Config is the complete proxy identity configuration.
type Config struct {
	// Identity is the proxy's own name in DNS form.
	Identity domain.Name `mapstructure:"identity" validate:"required"`
	// TrustRootsFile holds the PEM trust anchors.
	TrustRootsFile string `mapstructure:"trust_roots_file" validate:"required,file_exists"`
	// KeyFile holds the PKCS#8 private key, PEM or DER.
	KeyFile string `mapstructure:"key_file" validate:"required,file_exists"`
	// CSRFile holds the certificate signing request, PEM or DER.
	CSRFile string `mapstructure:"csr_file" validate:"omitempty,file_exists"`
	// ChainFile is the issued leaf and intermediates. It is watched and
	// need not exist at startup.
	ChainFile string `mapstructure:"chain_file"`
	// TrustDomain is the SPIFFE trust domain of the roots, if any.
	TrustDomain string `mapstructure:"trust_domain" validate:"omitempty,dns_name"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Serve   ServeConfig   `mapstructure:"serve"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// ServeConfig configures the mTLS gRPC listener.
type ServeConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	// AllowedIDs restricts callers to these SPIFFE IDs when TrustDomain is
	// set. Empty admits any member of the trust domain.
	AllowedIDs    []string      `mapstructure:"allowed_ids" validate:"dive,startswith=spiffe://"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"gte=0"`
}

// SetDefaults registers every key with its default so that environment
// variables are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyIdentity, "")
	v.SetDefault(KeyTrustRootsFile, "")
	v.SetDefault(KeyKeyFile, "")
	v.SetDefault(KeyCSRFile, "")
	v.SetDefault(KeyChainFile, "")
	v.SetDefault(KeyTrustDomain, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyServeAddr, "")
	v.SetDefault(KeyAllowedIDs, []string{})
	v.SetDefault(KeyShutdownGrace, "10s")
}

// NewViper returns a viper instance reading MESHTLS_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path (if not empty) into v, decodes and validates the result.
// Every failure is an ErrConfig.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, domainerrors.NewDomainError(domainerrors.ErrConfig,
				fmt.Errorf("failed to read config file %s: %w", path, err))
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		domain.NameDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, domainerrors.NewDomainError(domainerrors.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	err := domain.ValidateStruct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domainerrors.NewDomainError(domainerrors.ErrConfig, err)
	}

	var result *multierror.Error
	for _, fieldErr := range domain.ConvertValidationErrors(verrs) {
		result = multierror.Append(result, &fieldErr)
	}
	return domainerrors.NewDomainError(domainerrors.ErrConfig, result.ErrorOrNil())
}
