package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"

	"github.com/sufield/meshtls/internal/adapters/secondary/spiffe"
	"github.com/sufield/meshtls/internal/core/domain"
)

// checkReport summarizes the identity material on disk.
type checkReport struct {
	Identity   string     `json:"identity"`
	TrustRoots int        `json:"trust_roots"`
	HasCSR     bool       `json:"has_csr"`
	Certified  bool       `json:"certified"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	Chain      int        `json:"chain_length,omitempty"`
	SPIFFEID   string     `json:"spiffe_id,omitempty"`
	Revision   uint64     `json:"revision"`
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configured identity material",
		Long: `Validate the configured trust anchors, private key and, when present,
the issued certificate chain, exactly as the daemon would at startup.

With a trust domain configured, the certificate must also be a valid
X.509 SVID for that trust domain.

Example:
  meshtls check --config /etc/meshtls/meshtls.yaml --require-cert`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, opts)
		},
	}
	cmd.Flags().Bool("require-cert", false, "Fail when no certificate chain is available")
	return cmd
}

func runCheck(cmd *cobra.Command, opts *rootOptions) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	requireCert, _ := cmd.Flags().GetBool("require-cert")

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
	if !certified && requireCert {
		return fmt.Errorf("%w: no certificate chain available for %s", ErrAuth, cfg.Identity)
	}

	report := checkReport{
		Identity:   cfg.Identity.String(),
		TrustRoots: id.store.Roots().Count(),
		HasCSR:     len(id.store.CurrentCSR()) > 0,
		Certified:  certified,
		Revision:   id.store.Revision(),
	}
	if c, ok := id.store.Current().(*domain.Certified); ok {
		expiry := c.Expiry
		report.Expiry = &expiry
		report.Chain = len(c.Chain)
	}

	if certified && cfg.TrustDomain != "" {
		spiffeID, err := verifySVID(id, cfg.TrustDomain)
		if err != nil {
			return err
		}
		report.SPIFFEID = spiffeID
	}

	return writeCheckReport(cmd, format, &report)
}

// verifySVID checks the published certificate as an X.509 SVID of
// trustDomain and returns its SPIFFE ID.
func verifySVID(id *identity, trustDomain string) (string, error) {
	bundles, err := spiffe.NewBundleSource(trustDomain, id.store.Roots())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfig, err)
	}
	svid, err := spiffe.NewSVIDSource(id.store).GetX509SVID()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuth, err)
	}
	spiffeID, _, err := x509svid.Verify(svid.Certificates, bundles)
	if err != nil {
		return "", fmt.Errorf("%w: certificate is not a valid SVID for %s: %w", ErrAuth, trustDomain, err)
	}
	return spiffeID.String(), nil
}

func writeCheckReport(cmd *cobra.Command, format string, report *checkReport) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return fmt.Errorf("%w: failed to encode report as JSON: %v", ErrInternal, err)
		}
		return nil
	}

	fmt.Fprintf(out, "Identity: %s\n", report.Identity)
	fmt.Fprintf(out, "Trust Roots: %d\n", report.TrustRoots)
	fmt.Fprintf(out, "CSR: %t\n", report.HasCSR)
	if !report.Certified {
		fmt.Fprintln(out, "Certificate: none (server handshakes will be refused)")
		return nil
	}
	fmt.Fprintf(out, "Certificate: valid until %s\n", report.Expiry.Format(time.RFC3339))
	fmt.Fprintf(out, "Chain Length: %d\n", report.Chain)
	if report.SPIFFEID != "" {
		fmt.Fprintf(out, "SPIFFE ID: %s\n", report.SPIFFEID)
	}
	return nil
}
