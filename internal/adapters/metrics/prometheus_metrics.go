// Package metrics provides the Prometheus implementation of the credential
// store's metrics reporter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sufield/meshtls/internal/core/ports"
)

const namespace = "meshtls"

// PrometheusMetrics implements ports.MetricsReporter using Prometheus.
type PrometheusMetrics struct {
	rotations        *prometheus.CounterVec
	rotationDuration prometheus.Histogram
	certExpiry       *prometheus.GaugeVec
	refusals         *prometheus.CounterVec
	signingFailures  prometheus.Counter
	revision         prometheus.Gauge
}

var _ ports.MetricsReporter = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the credential metrics with reg. A nil reg
// registers with the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Total number of certificate rotations",
		}, []string{"result"}), // result: success, failure

		rotationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rotation_duration_seconds",
			Help:      "Duration of certificate validation and publication",
			Buckets:   prometheus.DefBuckets,
		}),

		certExpiry: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cert_expiry_timestamp_seconds",
			Help:      "Unix timestamp when the presented certificate expires",
		}, []string{"identity"}),

		refusals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_refused_total",
			Help:      "Total number of handshakes for which no certificate was presented",
		}, []string{"role", "reason"}),

		signingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_failures_total",
			Help:      "Total number of failed handshake signatures",
		}),

		revision: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_revision",
			Help:      "Revision of the latest published TLS configuration pair",
		}),
	}
}

// RecordRotation records the outcome of a SetCertificate call.
func (m *PrometheusMetrics) RecordRotation(success bool, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.rotations.WithLabelValues(result).Inc()
	m.rotationDuration.Observe(duration.Seconds())
}

// RecordCertificateExpiry updates the expiry of the presented certificate.
func (m *PrometheusMetrics) RecordCertificateExpiry(identity string, expiry time.Time) {
	m.certExpiry.WithLabelValues(identity).Set(float64(expiry.Unix()))
}

// RecordResolutionRefused records a resolver refusal.
func (m *PrometheusMetrics) RecordResolutionRefused(role, reason string) {
	m.refusals.WithLabelValues(role, reason).Inc()
}

// RecordSigningFailure records a failed signature.
func (m *PrometheusMetrics) RecordSigningFailure() {
	m.signingFailures.Inc()
}

// RecordPublished records the revision of the latest snapshot.
func (m *PrometheusMetrics) RecordPublished(revision uint64) {
	m.revision.Set(float64(revision))
}
