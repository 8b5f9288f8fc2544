package prometheus

import (
	"testing"
	"time"

	"github.com/marmos91/dittoloaders/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoaderMetrics(t *testing.T) {
	metrics.InitRegistry()

	m := NewLoaderMetrics()
	require.Same(t, m, NewLoaderMetrics())

	lm, ok := m.(*loaderMetrics)
	require.True(t, ok)

	m.ObserveRecognition("java", "recognized", time.Millisecond)
	m.ObserveRecognition("java", "recognized", time.Millisecond)
	m.ObserveRecognition("java", "skipped", time.Microsecond)
	m.RecordConstruction("java")
	m.SetPoolSize(7)
	m.RecordDelayedResolution("fallback")

	assert.Equal(t, 2.0, testutil.ToFloat64(lm.recognitions.WithLabelValues("java", "recognized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lm.recognitions.WithLabelValues("java", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lm.constructions.WithLabelValues("java")))
	assert.Equal(t, 7.0, testutil.ToFloat64(lm.poolSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(lm.delayedResolutions.WithLabelValues("fallback")))
}
