package exporter

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

// LineWriter sends StatsD lines to a sink. *transport.Transport satisfies
// it.
type LineWriter interface {
	Write(lines []string, done func(error)) error
}

// StatsD renders metrics in the StatsD line protocol. It must be used from
// the goroutine that drives its writer.
type StatsD struct {
	w      LineWriter
	bucket string
	tags   string
	logger *zap.SugaredLogger

	written atomic.Uint64
	ignored atomic.Uint64
}

// NewStatsD creates an exporter writing under bucket. A non-empty tags
// string is appended to every line as "|#tags".
func NewStatsD(w LineWriter, bucket, tags string, logger *zap.SugaredLogger) *StatsD {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StatsD{
		w:      w,
		bucket: strings.TrimSuffix(bucket, "."),
		tags:   tags,
		logger: logger,
	}
}

// Bucket returns the expanded bucket prefix.
func (s *StatsD) Bucket() string {
	return s.bucket
}

// Written returns the number of lines handed to the writer.
func (s *StatsD) Written() uint64 {
	return s.written.Load()
}

func (s *StatsD) ExportProcessMetrics(_ context.Context, cur, prev *metrics.ProcessSnapshot) error {
	lb := s.newLines(s.bucket, len(metrics.ProcessFields))
	metrics.Walk(metrics.ProcessFields, cur, prev, lb)
	return s.send(lb.lines)
}

func (s *StatsD) ExportThreadMetrics(_ context.Context, samples []metrics.ThreadSample) error {
	var lines []string
	for i := range samples {
		sample := &samples[i]
		prefix := s.bucket + ".thread." + strconv.FormatUint(sample.Meta.ThreadID, 10)
		lb := s.newLines(prefix, len(metrics.ThreadFields))
		metrics.Walk(metrics.ThreadFields, &sample.Cur, sample.Prev, lb)
		lines = append(lines, lb.lines...)
	}
	return s.send(lines)
}

// ExportSpans drops spans; the line protocol cannot carry them.
func (s *StatsD) ExportSpans(_ context.Context, spans []models.Span) error {
	s.ignored.Add(uint64(len(spans)))
	return nil
}

// ExportLogs drops log records; the line protocol cannot carry them.
func (s *StatsD) ExportLogs(_ context.Context, logs []models.LogRecord) error {
	s.ignored.Add(uint64(len(logs)))
	return nil
}

// ExportLoopBlocked emits a 1/0 gauge per thread.
func (s *StatsD) ExportLoopBlocked(_ context.Context, ev models.LoopBlocked) error {
	value := 0.0
	if ev.Blocked {
		value = 1
	}
	prefix := s.bucket + ".thread." + strconv.FormatUint(ev.ThreadID, 10)
	lb := s.newLines(prefix, 1)
	lb.Visit(metrics.Desc{Name: "loopBlocked", Kind: metrics.Gauge}, value)
	return s.send(lb.lines)
}

func (s *StatsD) send(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	n := uint64(len(lines))
	return s.w.Write(lines, func(err error) {
		if err != nil {
			s.logger.Debugw("statsd write failed", "lines", n, "error", err)
			return
		}
		s.written.Add(n)
	})
}

func (s *StatsD) newLines(prefix string, n int) *lineBuilder {
	return &lineBuilder{prefix: prefix, tags: s.tags, lines: make([]string, 0, n)}
}

// lineBuilder is the metrics.Visitor producing one line per field.
type lineBuilder struct {
	prefix string
	tags   string
	lines  []string
	sb     strings.Builder
}

func (b *lineBuilder) Visit(d metrics.Desc, value float64) {
	b.sb.Reset()
	b.sb.WriteString(b.prefix)
	b.sb.WriteByte('.')
	b.sb.WriteString(d.Name)
	b.sb.WriteByte(':')
	b.sb.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	if d.Kind == metrics.Counter {
		b.sb.WriteString("|c")
	} else {
		b.sb.WriteString("|g")
	}
	if b.tags != "" {
		b.sb.WriteString("|#")
		b.sb.WriteString(b.tags)
	}
	b.lines = append(b.lines, b.sb.String())
}
