package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CacheHitRatio(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())

	r.RecordCacheHit("basis")
	r.RecordCacheHit("basis")
	r.RecordCacheHit("basis")
	r.RecordCacheMiss("basis")

	assert.Equal(t, 3.0, CounterValue(r.CacheHits, "basis"))
	assert.Equal(t, 1.0, CounterValue(r.CacheMisses, "basis"))

	gauge, err := r.CacheHitRatio.GetMetricWithLabelValues("basis")
	require.NoError(t, err)
	m := &dto.Metric{}
	require.NoError(t, gauge.Write(m))
	assert.InDelta(t, 0.75, m.GetGauge().GetValue(), 1e-9)
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordCacheHit("basis")
		r.RecordCacheMiss("basis")
		r.RecordCoalesced("basis")
		r.ObserveCompute("basis", time.Now(), errors.New("boom"))
		r.RecordBuildLock("acquired")
		r.RecordSnapshotWait("timeout")
		r.RecordMemoryFailOpen()
	})
}

func TestRegistry_LockAndWaitCounters(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())

	r.RecordBuildLock("acquired")
	r.RecordBuildLock("held")
	r.RecordBuildLock("held")
	r.RecordSnapshotWait("timeout")

	assert.Equal(t, 1.0, CounterValue(r.BuildLock, "acquired"))
	assert.Equal(t, 2.0, CounterValue(r.BuildLock, "held"))
	assert.Equal(t, 1.0, CounterValue(r.SnapshotWait, "timeout"))
	assert.Equal(t, 0.0, CounterValue(r.SnapshotWait, "published"))
}
