// Package metrics wraps prometheus the way the teacher's metrics/metrics.go
// does: a thin struct holding a Registerer, with Register/MustRegister
// helpers so each subsystem owns and registers its own collectors instead
// of reaching for a global default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the shared registration surface passed to every component at
// construction.
type Metrics struct {
	Registry prometheus.Registerer
}

// New wraps reg, or a fresh private registry if reg is nil (used in tests
// so metrics registration never collides across parallel test runs).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{Registry: reg}
}

// Register registers a collector, tolerating AlreadyRegisteredError the
// way repeated component construction in tests expects.
func (m *Metrics) Register(c prometheus.Collector) error {
	if err := m.Registry.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// MustRegister panics on any registration failure other than
// already-registered; used in constructors where a bad collector is a
// programming error, not a runtime condition.
func (m *Metrics) MustRegister(c prometheus.Collector) {
	if err := m.Register(c); err != nil {
		panic(err)
	}
}
