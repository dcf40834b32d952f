package memexporter

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

func gauge(name string, v float64) models.MetricsDTO {
	return models.MetricsDTO{ID: name, MType: models.Gauge, Value: &v}
}

func counter(name string, d int64) models.MetricsDTO {
	return models.MetricsDTO{ID: name, MType: models.Counter, Delta: &d}
}

func TestNew(t *testing.T) {
	e := New(0)
	assert.NotNil(t, e.gauges)
	assert.NotNil(t, e.counters)
	assert.NotNil(t, e.types)
	assert.Equal(t, DefaultMaxRecords, e.maxRecords)
}

func TestExporter_SetAndGetMetric(t *testing.T) {
	e := New(10)

	e.SetMetrics([]models.MetricsDTO{gauge("testGauge", 42.5), counter("testCounter", 10)})

	got, err := e.GetMetric("testGauge")
	require.NoError(t, err)
	require.NotNil(t, got.Value)
	assert.Equal(t, 42.5, *got.Value)

	got, err = e.GetMetric("testCounter")
	require.NoError(t, err)
	require.NotNil(t, got.Delta)
	assert.Equal(t, int64(10), *got.Delta)

	_, err = e.GetMetric("nonExistent")
	assert.ErrorIs(t, err, internalerrors.ErrMetricNotFound)
}

func TestExporter_CounterAccumulates(t *testing.T) {
	e := New(10)

	e.SetMetrics([]models.MetricsDTO{counter("incrementCounter", 5)})
	e.SetMetrics([]models.MetricsDTO{counter("incrementCounter", 3)})

	got, err := e.GetMetric("incrementCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(8), *got.Delta)
}

func TestExporter_GaugeReplaces(t *testing.T) {
	e := New(10)

	e.SetMetrics([]models.MetricsDTO{gauge("g", 1)})
	e.SetMetrics([]models.MetricsDTO{gauge("g", 7)})

	got, err := e.GetMetric("g")
	require.NoError(t, err)
	assert.Equal(t, 7.0, *got.Value)
}

func TestExporter_ThreadMetricsAccumulateDeltas(t *testing.T) {
	e := New(10)
	ctx := context.Background()
	meta := metrics.ThreadMeta{ThreadID: 2, Name: "worker"}

	s1 := metrics.ThreadSnapshot{LoopIterations: 10, ActiveHandles: 3}
	s2 := metrics.ThreadSnapshot{LoopIterations: 25, ActiveHandles: 1}
	s3 := metrics.ThreadSnapshot{LoopIterations: 40, ActiveHandles: 5}
	require.NoError(t, e.ExportThreadMetrics(ctx, []metrics.ThreadSample{{Meta: meta, Cur: s1}}))
	require.NoError(t, e.ExportThreadMetrics(ctx, []metrics.ThreadSample{{Meta: meta, Cur: s2, Prev: &s1}}))
	require.NoError(t, e.ExportThreadMetrics(ctx, []metrics.ThreadSample{{Meta: meta, Cur: s3, Prev: &s2}}))

	got, err := e.GetMetric("thread.2.loopIterations")
	require.NoError(t, err)
	assert.Equal(t, int64(30), *got.Delta)

	got, err = e.GetMetric("thread.2.activeHandles")
	require.NoError(t, err)
	assert.Equal(t, 5.0, *got.Value)
}

func TestExporter_ListMetricsSorted(t *testing.T) {
	e := New(10)
	cur := metrics.ProcessSnapshot{RSS: 100}
	require.NoError(t, e.ExportProcessMetrics(context.Background(), &cur, nil))

	list := e.ListMetrics()
	require.Len(t, list, len(metrics.ProcessFields))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestExporter_RecordsAreCapped(t *testing.T) {
	e := New(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.ExportSpans(ctx, []models.Span{{Name: fmt.Sprintf("span-%d", i)}}))
		require.NoError(t, e.ExportLogs(ctx, []models.LogRecord{{Message: fmt.Sprintf("log-%d", i)}}))
	}

	spans := e.Spans()
	require.Len(t, spans, 3)
	assert.Equal(t, "span-2", spans[0].Name)
	assert.Equal(t, "span-4", spans[2].Name)
	assert.Len(t, e.Logs(), 3)
}

func TestExporter_LoopBlocked(t *testing.T) {
	e := New(10)
	ctx := context.Background()

	require.NoError(t, e.ExportLoopBlocked(ctx, models.LoopBlocked{ThreadID: 4, Blocked: true}))
	assert.True(t, e.Blocked(4))
	got, err := e.GetMetric("thread.4.loopBlocked")
	require.NoError(t, err)
	assert.Equal(t, 1.0, *got.Value)

	require.NoError(t, e.ExportLoopBlocked(ctx, models.LoopBlocked{ThreadID: 4}))
	assert.False(t, e.Blocked(4))
}

func TestExporter_ConcurrentAccess(t *testing.T) {
	e := New(100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.SetMetrics([]models.MetricsDTO{counter("shared", 1), gauge(fmt.Sprintf("g%d", i), float64(j))})
				_ = e.ListMetrics()
			}
		}(i)
	}
	wg.Wait()

	got, err := e.GetMetric("shared")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), *got.Delta)
	assert.NoError(t, e.Close())
}
