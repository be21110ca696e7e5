// Package metrics exposes Prometheus instrumentation for the sync engine.
//
// Metrics are opt-in: call InitRegistry once at process startup to enable
// them. Constructors return nil when the registry was never initialized, and
// every record method is nil-safe, so instrumented code paths carry zero
// overhead when metrics are off.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process-wide Prometheus registry and enables
// metric collection. Safe to call more than once; later calls are no-ops.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil if metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// ResetForTesting discards the registry so tests can re-init cleanly.
func ResetForTesting() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = nil
}
