package prometheus

import (
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// loaderMetrics is the Prometheus implementation of metrics.LoaderMetrics.
type loaderMetrics struct {
	recognitions        *prometheus.CounterVec
	recognitionDuration *prometheus.HistogramVec
	constructions       *prometheus.CounterVec
	poolSize            prometheus.Gauge
	revalidations       prometheus.Counter
	invalidated         prometheus.Counter
	folderRefreshes     *prometheus.CounterVec
	folderRefreshTime   *prometheus.HistogramVec
	delayedResolutions  *prometheus.CounterVec
}

var (
	shared     *loaderMetrics
	sharedOnce sync.Once
)

// NewLoaderMetrics returns the Prometheus-backed LoaderMetrics. The
// collectors are registered on first use and shared by every later caller,
// so several systems in one process report into the same series.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewLoaderMetrics() metrics.LoaderMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopLoaderMetrics()
	}

	sharedOnce.Do(func() { shared = newLoaderMetrics(metrics.GetRegistry()) })
	return shared
}

func newLoaderMetrics(reg *prometheus.Registry) *loaderMetrics {
	return &loaderMetrics{
		recognitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoloaders_recognitions_total",
				Help: "Total number of loader consultations by loader and outcome",
			},
			[]string{"loader", "outcome"},
		),
		recognitionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoloaders_recognition_duration_milliseconds",
				Help: "Time spent in one loader consultation in milliseconds",
				Buckets: []float64{
					0.01, // 10µs
					0.1,  // 100µs
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"loader"},
		),
		constructions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoloaders_objects_constructed_total",
				Help: "Total number of data objects constructed by loader",
			},
			[]string{"loader"},
		),
		poolSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoloaders_pool_objects",
				Help: "Number of live data objects in the identity pool",
			},
		),
		revalidations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoloaders_revalidations_total",
				Help: "Total number of revalidation passes",
			},
		),
		invalidated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoloaders_revalidation_invalidated_total",
				Help: "Total number of objects invalidated by revalidation",
			},
		),
		folderRefreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoloaders_folder_refreshes_total",
				Help: "Total number of applied folder refreshes by mode",
			},
			[]string{"mode"},
		),
		folderRefreshTime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoloaders_folder_refresh_duration_milliseconds",
				Help: "Time from refresh submission to apply in milliseconds",
				Buckets: []float64{
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
					5000, // 5s
				},
			},
			[]string{"mode"},
		),
		delayedResolutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoloaders_delayed_nodes_total",
				Help: "Total number of delayed node resolutions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *loaderMetrics) ObserveRecognition(loader, outcome string, duration time.Duration) {
	m.recognitions.WithLabelValues(loader, outcome).Inc()
	m.recognitionDuration.WithLabelValues(loader).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *loaderMetrics) RecordConstruction(loader string) {
	m.constructions.WithLabelValues(loader).Inc()
}

func (m *loaderMetrics) SetPoolSize(n int) {
	m.poolSize.Set(float64(n))
}

func (m *loaderMetrics) RecordRevalidation(invalidated int) {
	m.revalidations.Inc()
	m.invalidated.Add(float64(invalidated))
}

func (m *loaderMetrics) ObserveFolderRefresh(mode string, duration time.Duration) {
	m.folderRefreshes.WithLabelValues(mode).Inc()
	m.folderRefreshTime.WithLabelValues(mode).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *loaderMetrics) RecordDelayedResolution(outcome string) {
	m.delayedResolutions.WithLabelValues(outcome).Inc()
}
