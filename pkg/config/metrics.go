package config

import (
	"github.com/marmos91/dittoloaders/pkg/metrics"
	promMetrics "github.com/marmos91/dittoloaders/pkg/metrics/prometheus"
)

// MetricsResult holds what InitializeMetrics builds.
type MetricsResult struct {
	// Server is nil while metrics are disabled.
	Server *metrics.Server

	// LoaderMetrics is never nil.
	LoaderMetrics metrics.LoaderMetrics
}

// InitializeMetrics wires the metrics section. With metrics disabled the
// loader system gets a no-op recorder and no server is built.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{LoaderMetrics: metrics.NewNoopLoaderMetrics()}
	}

	metrics.InitRegistry()
	return &MetricsResult{
		Server:        metrics.NewServer(metrics.ServerConfig{Addr: cfg.Metrics.Listen}),
		LoaderMetrics: promMetrics.NewLoaderMetrics(),
	}
}
