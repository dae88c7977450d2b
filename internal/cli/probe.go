package cli

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"

	"github.com/sufield/meshtls/internal/adapters/secondary/transport"
	"github.com/sufield/meshtls/internal/core/domain"
)

// probeResult describes one health check over mutual TLS.
type probeResult struct {
	Address    string `json:"address"`
	ServerName string `json:"server_name"`
	Status     string `json:"status"`
	PeerDNS    string `json:"peer_dns,omitempty"`
	PeerSPIFFE string `json:"peer_spiffe_id,omitempty"`
	TLSVersion string `json:"tls_version"`
	ALPN       string `json:"alpn"`
	ClientCert bool   `json:"client_certificate"`
}

func newProbeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <server-identity> <address>",
		Short: "Health check a peer over mutual TLS",
		Long: `Connect to address with the local identity, verify that the server
presents a certificate for server-identity and call its gRPC health service.

The client presents the certificate from the chain file when one is
available and connects anonymously otherwise.

Example:
  meshtls probe web.default.serviceaccount.identity.mesh.cluster.local 10.0.0.7:4143`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, opts, args[0], args[1])
		},
	}
	cmd.Flags().Duration("timeout", 10*time.Second, "Probe timeout")
	return cmd
}

func runProbe(cmd *cobra.Command, opts *rootOptions, target, address string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	serverName, err := domain.NewName(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}
	id, err := openIdentity(cfg, logger, nil)
	if err != nil {
		return err
	}
	certified, err := id.certifyFromFile()
	if err != nil {
		return err
	}

	dialOpts := append(transport.DefaultConnectionConfig().ToDialOptions(id.rx),
		grpc.WithAuthority(serverName.String()))
	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return fmt.Errorf("%w: failed to create client for %s: %v", ErrUsage, address, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var p peer.Peer
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{},
		grpc.Peer(&p))
	if err != nil {
		return fmt.Errorf("%w: health check of %s at %s failed: %w", ErrRuntime, serverName, address, err)
	}

	result := probeResult{
		Address:    address,
		ServerName: serverName.String(),
		Status:     resp.GetStatus().String(),
		ClientCert: certified,
	}
	if info, ok := p.AuthInfo.(credentials.TLSInfo); ok {
		state := info.State
		result.TLSVersion = tlsVersionName(state.Version)
		result.ALPN = state.NegotiatedProtocol
		if len(state.PeerCertificates) > 0 {
			leaf := state.PeerCertificates[0]
			if len(leaf.DNSNames) > 0 {
				result.PeerDNS = leaf.DNSNames[0]
			}
			if spiffeID, err := x509svid.IDFromCert(leaf); err == nil {
				result.PeerSPIFFE = spiffeID.String()
			}
		}
	}

	return writeProbeResult(cmd, format, &result)
}

func writeProbeResult(cmd *cobra.Command, format string, result *probeResult) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("%w: failed to encode probe result as JSON: %v", ErrInternal, err)
		}
		return nil
	}

	fmt.Fprintf(out, "Address: %s\n", result.Address)
	fmt.Fprintf(out, "Server Identity: %s\n", result.ServerName)
	fmt.Fprintf(out, "Status: %s\n", result.Status)
	fmt.Fprintf(out, "TLS: %s (%s)\n", result.TLSVersion, result.ALPN)
	if result.PeerSPIFFE != "" {
		fmt.Fprintf(out, "Peer SPIFFE ID: %s\n", result.PeerSPIFFE)
	}
	fmt.Fprintf(out, "Client Certificate: %t\n", result.ClientCert)
	return nil
}

func tlsVersionName(v uint16) string {
	if v == 0 {
		return "unknown"
	}
	return tls.VersionName(v)
}
