// Package exporter defines the backend interface the agent forwards
// telemetry to, and the StatsD backend that writes through the agent's
// reconnecting transport.
package exporter

import (
	"context"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

// Exporter consumes telemetry. Errors are reported for logging only; an
// exporter that wants retries does them itself.
type Exporter interface {
	ExportProcessMetrics(ctx context.Context, cur, prev *metrics.ProcessSnapshot) error
	ExportThreadMetrics(ctx context.Context, samples []metrics.ThreadSample) error
	ExportSpans(ctx context.Context, spans []models.Span) error
	ExportLogs(ctx context.Context, logs []models.LogRecord) error
}

// LoopBlockedExporter is implemented by exporters that report event loop
// stalls.
type LoopBlockedExporter interface {
	ExportLoopBlocked(ctx context.Context, ev models.LoopBlocked) error
}

// ProfileExporter is implemented by exporters that accept profiles.
type ProfileExporter interface {
	ExportProfile(ctx context.Context, p models.Profile) error
}

// Multi fans every call out to all of its exporters. Nil entries are
// skipped.
type Multi []Exporter

func (m Multi) ExportProcessMetrics(ctx context.Context, cur, prev *metrics.ProcessSnapshot) error {
	return m.each(func(e Exporter) error { return e.ExportProcessMetrics(ctx, cur, prev) })
}

func (m Multi) ExportThreadMetrics(ctx context.Context, samples []metrics.ThreadSample) error {
	return m.each(func(e Exporter) error { return e.ExportThreadMetrics(ctx, samples) })
}

func (m Multi) ExportSpans(ctx context.Context, spans []models.Span) error {
	return m.each(func(e Exporter) error { return e.ExportSpans(ctx, spans) })
}

func (m Multi) ExportLogs(ctx context.Context, logs []models.LogRecord) error {
	return m.each(func(e Exporter) error { return e.ExportLogs(ctx, logs) })
}

func (m Multi) ExportLoopBlocked(ctx context.Context, ev models.LoopBlocked) error {
	return m.each(func(e Exporter) error {
		if lb, ok := e.(LoopBlockedExporter); ok {
			return lb.ExportLoopBlocked(ctx, ev)
		}
		return nil
	})
}

func (m Multi) ExportProfile(ctx context.Context, p models.Profile) error {
	return m.each(func(e Exporter) error {
		if pe, ok := e.(ProfileExporter); ok {
			return pe.ExportProfile(ctx, p)
		}
		return nil
	})
}

// Close closes every exporter implementing io.Closer.
func (m Multi) Close() error {
	return m.each(func(e Exporter) error {
		if c, ok := e.(io.Closer); ok {
			return c.Close()
		}
		return nil
	})
}

func (m Multi) each(fn func(Exporter) error) error {
	var result *multierror.Error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := fn(e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
