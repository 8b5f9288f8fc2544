// Package metrics provides Prometheus metrics collection for the loader engine.
//
// All metrics are optional - if not initialized, components use no-op implementations
// that have zero overhead. This allows dittoloaders to run with or without metrics
// collection enabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	sys, err := loaders.NewSystem(loaders.SystemOptions{
//	    FileSystem: fsys,
//	    Metrics:    prometheus.NewLoaderMetrics(),
//	})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors installed. Later calls are ignored.
//
// Until it is called, GetRegistry returns nil and every metrics
// constructor returns a no-op implementation.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "dittoloaders"}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil while metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
