package metrics

import "time"

// LoaderMetrics provides observability for the recognition engine, the
// object pool and folder synchronization.
//
// This interface is optional - components given nil use the no-op
// implementation.
//
// Example usage:
//
//	metrics.InitRegistry()
//	sys, err := loaders.NewSystem(loaders.SystemOptions{
//	    FileSystem: fsys,
//	    Metrics:    prometheus.NewLoaderMetrics(),
//	})
type LoaderMetrics interface {
	// ObserveRecognition records one loader consultation.
	//
	// Parameters:
	//   - loader: Loader name
	//   - outcome: "recognized", "skipped", "exists" or "error"
	//   - duration: Time spent in the loader
	ObserveRecognition(loader, outcome string, duration time.Duration)

	// RecordConstruction counts a newly constructed data object.
	RecordConstruction(loader string)

	// SetPoolSize reports the number of live objects in the identity pool.
	SetPoolSize(n int)

	// RecordRevalidation counts objects invalidated by a revalidation pass.
	RecordRevalidation(invalidated int)

	// ObserveFolderRefresh records one applied folder refresh.
	//
	// Parameters:
	//   - mode: Refresh mode name (e.g. "shallow", "deep_later")
	//   - duration: Time from submission to apply
	ObserveFolderRefresh(mode string, duration time.Duration)

	// RecordDelayedResolution counts delayed node resolutions by outcome
	// ("resolved", "failed", "fallback").
	RecordDelayedResolution(outcome string)
}

// NewNoopLoaderMetrics returns a LoaderMetrics that discards everything.
func NewNoopLoaderMetrics() LoaderMetrics {
	return noopLoaderMetrics{}
}

// noopLoaderMetrics is a no-op implementation of LoaderMetrics with zero overhead.
type noopLoaderMetrics struct{}

func (noopLoaderMetrics) ObserveRecognition(loader, outcome string, duration time.Duration) {}
func (noopLoaderMetrics) RecordConstruction(loader string)                                  {}
func (noopLoaderMetrics) SetPoolSize(n int)                                                 {}
func (noopLoaderMetrics) RecordRevalidation(invalidated int)                                {}
func (noopLoaderMetrics) ObserveFolderRefresh(mode string, duration time.Duration)          {}
func (noopLoaderMetrics) RecordDelayedResolution(outcome string)                            {}
