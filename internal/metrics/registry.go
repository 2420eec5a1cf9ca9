package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds the Prometheus metrics for the analytics layer. A nil *Registry
// is valid and records nothing, so components can be built without metrics.
type Registry struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheHitRatio   *prometheus.GaugeVec
	Coalesced       *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	BuildLock       *prometheus.CounterVec
	SnapshotWait    *prometheus.CounterVec
	MemoryFailOpen  prometheus.Counter
}

// NewRegistry creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and prometheus.NewRegistry() in tests.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spxsignals_cache_hits_total",
				Help: "Shared cache hits by cache type",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spxsignals_cache_misses_total",
				Help: "Shared cache misses by cache type",
			},
			[]string{"cache_type"},
		),
		CacheHitRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spxsignals_cache_hit_ratio",
				Help: "Shared cache hit ratio (0.0 to 1.0) by cache type",
			},
			[]string{"cache_type"},
		),
		Coalesced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spxsignals_coalesced_total",
				Help: "Calls served by a computation shared with concurrent callers",
			},
			[]string{"cache_type"},
		),
		ComputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spxsignals_compute_duration_seconds",
				Help:    "Duration of underlying analytics computations",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"cache_type", "result"},
		),
		BuildLock: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spxsignals_build_lock_total",
				Help: "Snapshot build lock operations by result",
			},
			[]string{"result"},
		),
		SnapshotWait: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spxsignals_snapshot_wait_total",
				Help: "Waits for a shared snapshot by outcome",
			},
			[]string{"result"},
		),
		MemoryFailOpen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spxsignals_memory_fail_open_total",
				Help: "Memory scorer queries answered with the neutral context after a store error",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.CacheHits,
			r.CacheMisses,
			r.CacheHitRatio,
			r.Coalesced,
			r.ComputeDuration,
			r.BuildLock,
			r.SnapshotWait,
			r.MemoryFailOpen,
		)
	}

	return r
}

// RecordCacheHit records a cache hit for the specified cache type
func (r *Registry) RecordCacheHit(cacheType string) {
	if r == nil {
		return
	}
	r.CacheHits.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio(cacheType)
}

// RecordCacheMiss records a cache miss for the specified cache type
func (r *Registry) RecordCacheMiss(cacheType string) {
	if r == nil {
		return
	}
	r.CacheMisses.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio(cacheType)
}

func (r *Registry) RecordCoalesced(cacheType string) {
	if r == nil {
		return
	}
	r.Coalesced.WithLabelValues(cacheType).Inc()
}

// ObserveCompute records how long an underlying computation took.
func (r *Registry) ObserveCompute(cacheType string, started time.Time, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	duration := time.Since(started)
	r.ComputeDuration.WithLabelValues(cacheType, result).Observe(duration.Seconds())

	log.Debug().
		Str("cache_type", cacheType).
		Str("result", result).
		Dur("duration", duration).
		Msg("Analytics computation completed")
}

func (r *Registry) RecordBuildLock(result string) {
	if r == nil {
		return
	}
	r.BuildLock.WithLabelValues(result).Inc()
}

func (r *Registry) RecordSnapshotWait(result string) {
	if r == nil {
		return
	}
	r.SnapshotWait.WithLabelValues(result).Inc()
}

func (r *Registry) RecordMemoryFailOpen() {
	if r == nil {
		return
	}
	r.MemoryFailOpen.Inc()
}

// CounterValue reads the current value of one labelled counter.
func CounterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func (r *Registry) updateCacheHitRatio(cacheType string) {
	hits := CounterValue(r.CacheHits, cacheType)
	misses := CounterValue(r.CacheMisses, cacheType)
	if total := hits + misses; total > 0 {
		r.CacheHitRatio.WithLabelValues(cacheType).Set(hits / total)
	}
}
