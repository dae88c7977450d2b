// Package cli implements the meshtls command: a sidecar identity daemon
// that publishes mutual TLS configurations for a fixed private key and the
// certificates issued to it.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sufield/meshtls/internal/adapters/logging"
	"github.com/sufield/meshtls/internal/config"
)

// rootOptions carries state shared by every subcommand.
type rootOptions struct {
	v          *viper.Viper
	configPath string
}

// NewRootCommand builds the command tree. Every call returns an independent
// tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "meshtls",
		Short: "Mutual TLS identity credentials for a mesh sidecar",
		Long: `Mutual TLS identity credentials for a mesh sidecar.

meshtls holds the proxy's private key and trust anchors, accepts the
certificates issued to that key, and serves mutual TLS with whichever
certificate was most recently accepted. Settings come from a YAML file,
MESHTLS_* environment variables and flags, in increasing precedence.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unknown command %q for %q", ErrUsage, args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	flags.String("identity", "", "Local identity name (DNS form)")
	flags.String("trust-roots", "", "PEM file holding the trust anchors")
	flags.String("key", "", "PKCS#8 private key file, PEM or DER")
	flags.String("csr", "", "Certificate signing request file, PEM or DER")
	flags.String("chain", "", "PEM file holding the issued leaf and intermediates")
	flags.String("trust-domain", "", "SPIFFE trust domain of the trust anchors")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text, json")
	flags.StringP("format", "o", "text", "Output format: text, json")

	bindings := map[string]string{
		config.KeyIdentity:       "identity",
		config.KeyTrustRootsFile: "trust-roots",
		config.KeyKeyFile:        "key",
		config.KeyCSRFile:        "csr",
		config.KeyChainFile:      "chain",
		config.KeyTrustDomain:    "trust-domain",
		config.KeyLogLevel:       "log-level",
		config.KeyLogFormat:      "log-format",
	}
	bindFlags(opts.v, flags, bindings)

	cmd.AddCommand(
		newVersionCommand(),
		newCheckCommand(opts),
		newServeCommand(opts),
		newProbeCommand(opts),
	)
	return cmd
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) {
	for key, name := range bindings {
		// Lookup never fails for flags registered above.
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

// load reads the configuration and builds the logger it selects. The logger
// writes to the command's error stream.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return cfg, logger, nil
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", fmt.Errorf("%w: failed to get format flag: %v", ErrUsage, err)
	}
	switch format {
	case "text", "json":
		return format, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q, use 'text' or 'json'", ErrUsage, format)
	}
}
