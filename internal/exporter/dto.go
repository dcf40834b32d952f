package exporter

import (
	"math"
	"strconv"

	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

// DTOCollector is a metrics.Visitor that turns every field into a
// MetricsDTO named Prefix + field name.
type DTOCollector struct {
	Prefix  string
	Metrics []models.MetricsDTO
}

func (c *DTOCollector) Visit(d metrics.Desc, value float64) {
	dto := models.MetricsDTO{ID: c.Prefix + d.Name}
	if d.Kind == metrics.Counter {
		delta := int64(math.Round(value))
		dto.MType = models.Counter
		dto.Delta = &delta
	} else {
		dto.MType = models.Gauge
		dto.Value = &value
	}
	c.Metrics = append(c.Metrics, dto)
}

// ProcessDTOs renders a process snapshot under "process.".
func ProcessDTOs(cur, prev *metrics.ProcessSnapshot) []models.MetricsDTO {
	c := &DTOCollector{Prefix: "process.", Metrics: make([]models.MetricsDTO, 0, len(metrics.ProcessFields))}
	metrics.Walk(metrics.ProcessFields, cur, prev, c)
	return c.Metrics
}

// ThreadDTOs renders thread samples under "thread.<id>.".
func ThreadDTOs(samples []metrics.ThreadSample) []models.MetricsDTO {
	c := &DTOCollector{Metrics: make([]models.MetricsDTO, 0, len(samples)*len(metrics.ThreadFields))}
	for i := range samples {
		s := &samples[i]
		c.Prefix = "thread." + strconv.FormatUint(s.Meta.ThreadID, 10) + "."
		metrics.Walk(metrics.ThreadFields, &s.Cur, s.Prev, c)
	}
	return c.Metrics
}

// LoopBlockedDTO renders a loop stall as a 1/0 gauge.
func LoopBlockedDTO(ev models.LoopBlocked) models.MetricsDTO {
	value := 0.0
	if ev.Blocked {
		value = 1
	}
	return models.MetricsDTO{
		ID:    "thread." + strconv.FormatUint(ev.ThreadID, 10) + ".loopBlocked",
		MType: models.Gauge,
		Value: &value,
	}
}
