package mapengine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the composer's instrumentation. Pass nil for a Registerer to
// use the process-global default registry.
type Metrics struct {
	LayerBuilds      prometheus.Counter
	LayerCacheHits   prometheus.Counter
	LayerCacheMisses prometheus.Counter
	BuildOverruns    prometheus.Counter
	BuildDuration    prometheus.Histogram
	ClusterQueries   prometheus.Counter
	RendersCoalesced prometheus.Counter
	VisibleMarkers   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		LayerBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "situmap",
			Name:      "layer_builds_total",
			Help:      "Layer snapshots built, cache hits excluded.",
		}),
		LayerCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "situmap",
			Name:      "layer_cache_hits_total",
			Help:      "Layer builds served by signature-matched reuse.",
		}),
		LayerCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "situmap",
			Name:      "layer_cache_misses_total",
			Help:      "Layer builds that had to re-encode their records.",
		}),
		BuildOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "situmap",
			Name:      "build_overruns_total",
			Help:      "Full BuildLayers passes that exceeded the frame budget.",
		}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "situmap",
			Name:      "build_duration_seconds",
			Help:      "Wall time of full BuildLayers passes.",
			Buckets:   []float64{.001, .002, .004, .008, .016, .032, .064, .128},
		}),
		ClusterQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "situmap",
			Name:      "cluster_queries_total",
			Help:      "Viewport cluster queries answered by the index (cache misses).",
		}),
		RendersCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "situmap",
			Name:      "renders_total",
			Help:      "Coalesced renders delivered to the host.",
		}),
		VisibleMarkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "situmap",
			Name:      "visible_markers",
			Help:      "Markers in the most recently built visual layers.",
		}),
	}
	reg.MustRegister(
		m.LayerBuilds, m.LayerCacheHits, m.LayerCacheMisses,
		m.BuildOverruns, m.BuildDuration, m.ClusterQueries,
		m.RendersCoalesced, m.VisibleMarkers,
	)
	return m
}

// NewMetricsForTesting registers on a throwaway registry so parallel tests
// never collide on metric names.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
