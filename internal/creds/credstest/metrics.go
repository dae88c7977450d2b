package credstest

import (
	"sync"
	"time"

	"github.com/sufield/meshtls/internal/core/ports"
)

// Metrics records observations for assertions.
type Metrics struct {
	mu              sync.Mutex
	Rotations       map[bool]int
	Expiry          map[string]time.Time
	Refused         map[string]int // "role/reason"
	SigningFailures int
	LastPublished   uint64
}

var _ ports.MetricsReporter = (*Metrics)(nil)

// NewMetrics returns an empty recorder.
func NewMetrics() *Metrics {
	return &Metrics{
		Rotations: map[bool]int{},
		Expiry:    map[string]time.Time{},
		Refused:   map[string]int{},
	}
}

func (m *Metrics) RecordRotation(success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rotations[success]++
}

func (m *Metrics) RecordCertificateExpiry(identity string, expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Expiry[identity] = expiry
}

func (m *Metrics) RecordResolutionRefused(role, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refused[role+"/"+reason]++
}

func (m *Metrics) RecordSigningFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SigningFailures++
}

func (m *Metrics) RecordPublished(revision uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastPublished = revision
}

// RefusedCount returns how often role refused for reason.
func (m *Metrics) RefusedCount(role, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Refused[role+"/"+reason]
}

// RotationCount returns the number of rotations with the given outcome.
func (m *Metrics) RotationCount(success bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Rotations[success]
}
