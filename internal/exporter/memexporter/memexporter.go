// Package memexporter keeps exported telemetry in memory. The status API
// serves it and tests read it back.
package memexporter

import (
	"context"
	"sort"
	"sync"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/exporter"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

// DefaultMaxRecords bounds the spans, logs and profiles kept.
const DefaultMaxRecords = 1000

// Exporter stores the last value of every gauge, the running total of every
// counter, and the most recent spans, logs and profiles.
type Exporter struct {
	// mu provides thread-safe access to everything below
	mu sync.RWMutex

	// gauges stores gauge metrics as name -> value pairs
	gauges map[string]float64

	// counters stores counter totals as name -> value pairs
	counters map[string]int64

	// types stores the metric type for each metric name
	types map[string]string

	spans    []models.Span
	logs     []models.LogRecord
	profiles []models.Profile
	blocked  map[uint64]bool

	maxRecords int
}

// New creates an empty exporter keeping at most maxRecords spans, logs and
// profiles each. maxRecords <= 0 selects DefaultMaxRecords.
func New(maxRecords int) *Exporter {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Exporter{
		gauges:     make(map[string]float64),
		counters:   make(map[string]int64),
		types:      make(map[string]string),
		blocked:    make(map[uint64]bool),
		maxRecords: maxRecords,
	}
}

// SetMetrics stores a batch. Counters add their delta to the running
// total; gauges replace the previous value.
func (e *Exporter) SetMetrics(batch []models.MetricsDTO) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range batch {
		switch m.MType {
		case models.Counter:
			if m.Delta != nil {
				e.counters[m.ID] += *m.Delta
				e.types[m.ID] = m.MType
			}
		case models.Gauge:
			if m.Value != nil {
				e.gauges[m.ID] = *m.Value
				e.types[m.ID] = m.MType
			}
		}
	}
}

func (e *Exporter) ExportProcessMetrics(_ context.Context, cur, prev *metrics.ProcessSnapshot) error {
	e.SetMetrics(exporter.ProcessDTOs(cur, prev))
	return nil
}

func (e *Exporter) ExportThreadMetrics(_ context.Context, samples []metrics.ThreadSample) error {
	e.SetMetrics(exporter.ThreadDTOs(samples))
	return nil
}

func (e *Exporter) ExportSpans(_ context.Context, spans []models.Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = appendCapped(e.spans, spans, e.maxRecords)
	return nil
}

func (e *Exporter) ExportLogs(_ context.Context, logs []models.LogRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = appendCapped(e.logs, logs, e.maxRecords)
	return nil
}

func (e *Exporter) ExportLoopBlocked(_ context.Context, ev models.LoopBlocked) error {
	e.SetMetrics([]models.MetricsDTO{exporter.LoopBlockedDTO(ev)})
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.Blocked {
		e.blocked[ev.ThreadID] = true
	} else {
		delete(e.blocked, ev.ThreadID)
	}
	return nil
}

func (e *Exporter) ExportProfile(_ context.Context, p models.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles = appendCapped(e.profiles, []models.Profile{p}, e.maxRecords)
	return nil
}

// GetMetric returns the stored value of the named metric.
func (e *Exporter) GetMetric(name string) (models.MetricsDTO, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	typ, exists := e.types[name]
	if !exists {
		return models.MetricsDTO{}, internalerrors.ErrMetricNotFound
	}
	return e.dto(name, typ)
}

// ListMetrics returns every stored metric sorted by name.
func (e *Exporter) ListMetrics() []models.MetricsDTO {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]models.MetricsDTO, 0, len(e.types))
	for name, typ := range e.types {
		dto, err := e.dto(name, typ)
		if err != nil {
			continue
		}
		result = append(result, dto)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (e *Exporter) dto(name, typ string) (models.MetricsDTO, error) {
	dto := models.MetricsDTO{ID: name, MType: typ}
	switch typ {
	case models.Gauge:
		val := e.gauges[name]
		dto.Value = &val
	case models.Counter:
		val := e.counters[name]
		dto.Delta = &val
	default:
		return models.MetricsDTO{}, internalerrors.ErrUnknownMetricType
	}
	return dto, nil
}

// Spans returns a copy of the retained spans, oldest first.
func (e *Exporter) Spans() []models.Span {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Span(nil), e.spans...)
}

// Logs returns a copy of the retained log records, oldest first.
func (e *Exporter) Logs() []models.LogRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.LogRecord(nil), e.logs...)
}

// Profiles returns a copy of the retained profiles, oldest first.
func (e *Exporter) Profiles() []models.Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Profile(nil), e.profiles...)
}

// Blocked reports whether threadID's loop was last reported blocked.
func (e *Exporter) Blocked(threadID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.blocked[threadID]
}

// Close releases nothing; it exists so the agent closes every exporter
// the same way.
func (e *Exporter) Close() error {
	return nil
}

func appendCapped[T any](dst, src []T, max int) []T {
	dst = append(dst, src...)
	if over := len(dst) - max; over > 0 {
		dst = append(dst[:0:0], dst[over:]...)
	}
	return dst
}
