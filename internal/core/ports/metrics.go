package ports

import "time"

// Resolution refusal reasons reported to MetricsReporter.
const (
	RefusedNoSNI             = "no_sni"
	RefusedSNIMismatch       = "sni_mismatch"
	RefusedUnsupportedScheme = "unsupported_scheme"
	RefusedUninitialized     = "uninitialized"
)

// Resolution roles.
const (
	RoleClient = "client"
	RoleServer = "server"
)

// MetricsReporter receives observations from the credential store and its
// handshake-time adapters. Implementations must be safe for concurrent use.
type MetricsReporter interface {
	RecordRotation(success bool, duration time.Duration)
	RecordCertificateExpiry(identity string, expiry time.Time)
	RecordResolutionRefused(role, reason string)
	RecordSigningFailure()
	RecordPublished(revision uint64)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordRotation(bool, time.Duration) {}
func (NopMetrics) RecordCertificateExpiry(string, time.Time) {}
func (NopMetrics) RecordResolutionRefused(string, string) {}
func (NopMetrics) RecordSigningFailure() {}
func (NopMetrics) RecordPublished(uint64) {}

var _ MetricsReporter = NopMetrics{}
