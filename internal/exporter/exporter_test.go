package exporter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

type recordingWriter struct {
	lines []string
	err   error
}

func (w *recordingWriter) Write(lines []string, done func(error)) error {
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, lines...)
	if done != nil {
		done(nil)
	}
	return nil
}

func TestExpand(t *testing.T) {
	vars := Vars{
		Env:      "prod",
		App:      "checkout",
		Hostname: "web-1",
		ID:       "0f8fad5b-d9cb-469f-a165-70867728950e",
		Tags:     []string{"region:eu", "tier:web"},
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"default bucket", DefaultBucket, "nsolid.prod.checkout.web-1.0f8fad5"},
		{"id", "agent.${id}", "agent.0f8fad5b-d9cb-469f-a165-70867728950e"},
		{"tags", "${tags}", "region:eu,tier:web"},
		{"no placeholders", "plain.bucket", "plain.bucket"},
		{"unknown placeholder", "x.${zone}", "x.${zone}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.tmpl, vars))
		})
	}

	assert.Equal(t, "abc", Vars{ID: "abc"}.ShortID())
}

func TestStatsD_ProcessMetrics(t *testing.T) {
	w := &recordingWriter{}
	s := NewStatsD(w, "nsolid.prod.app", "", nil)

	prev := metrics.ProcessSnapshot{TotalAlloc: 1000, RSS: 10}
	cur := metrics.ProcessSnapshot{TotalAlloc: 1500, RSS: 2048}
	require.NoError(t, s.ExportProcessMetrics(context.Background(), &cur, &prev))

	require.Len(t, w.lines, len(metrics.ProcessFields))
	assert.Contains(t, w.lines, "nsolid.prod.app.rss:2048|g")
	assert.Contains(t, w.lines, "nsolid.prod.app.totalAlloc:500|c")
	assert.Equal(t, uint64(len(metrics.ProcessFields)), s.Written())
}

func TestStatsD_ThreadMetricsWithTags(t *testing.T) {
	w := &recordingWriter{}
	s := NewStatsD(w, "bucket.", "env:prod", nil)

	prev := metrics.ThreadSnapshot{LoopIterations: 10}
	samples := []metrics.ThreadSample{
		{Meta: metrics.ThreadMeta{ThreadID: 3}, Cur: metrics.ThreadSnapshot{LoopIterations: 25, ActiveHandles: 4}, Prev: &prev},
		{Meta: metrics.ThreadMeta{ThreadID: 4}, Cur: metrics.ThreadSnapshot{LoopIterations: 9}},
	}
	require.NoError(t, s.ExportThreadMetrics(context.Background(), samples))

	assert.Len(t, w.lines, 2*len(metrics.ThreadFields))
	assert.Contains(t, w.lines, "bucket.thread.3.loopIterations:15|c|#env:prod")
	assert.Contains(t, w.lines, "bucket.thread.3.activeHandles:4|g|#env:prod")
	assert.Contains(t, w.lines, "bucket.thread.4.loopIterations:0|c|#env:prod")
}

func TestStatsD_WriterErrorIsReturned(t *testing.T) {
	w := &recordingWriter{err: internalerrors.ErrNotConnected}
	s := NewStatsD(w, "b", "", nil)

	cur := metrics.ProcessSnapshot{}
	err := s.ExportProcessMetrics(context.Background(), &cur, nil)
	assert.ErrorIs(t, err, internalerrors.ErrNotConnected)
	assert.Zero(t, s.Written())
}

func TestStatsD_LoopBlockedAndIgnoredRecords(t *testing.T) {
	w := &recordingWriter{}
	s := NewStatsD(w, "b", "", nil)
	ctx := context.Background()

	require.NoError(t, s.ExportLoopBlocked(ctx, models.LoopBlocked{ThreadID: 1, Blocked: true}))
	require.NoError(t, s.ExportSpans(ctx, []models.Span{{Name: "GET /"}}))
	require.NoError(t, s.ExportLogs(ctx, []models.LogRecord{{Message: "hi"}}))

	assert.Equal(t, []string{"b.thread.1.loopBlocked:1|g"}, w.lines)
}

type stubExporter struct {
	err     error
	spans   int
	blocked int
}

func (s *stubExporter) ExportProcessMetrics(context.Context, *metrics.ProcessSnapshot, *metrics.ProcessSnapshot) error {
	return s.err
}
func (s *stubExporter) ExportThreadMetrics(context.Context, []metrics.ThreadSample) error {
	return s.err
}
func (s *stubExporter) ExportSpans(_ context.Context, spans []models.Span) error {
	s.spans += len(spans)
	return s.err
}
func (s *stubExporter) ExportLogs(context.Context, []models.LogRecord) error { return s.err }
func (s *stubExporter) ExportLoopBlocked(context.Context, models.LoopBlocked) error {
	s.blocked++
	return nil
}

func TestMulti(t *testing.T) {
	ok := &stubExporter{}
	failing := &stubExporter{err: errors.New("backend down")}
	m := Multi{ok, nil, failing}
	ctx := context.Background()

	err := m.ExportSpans(ctx, []models.Span{{}, {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Equal(t, 2, ok.spans)
	assert.Equal(t, 2, failing.spans)

	require.NoError(t, m.ExportLoopBlocked(ctx, models.LoopBlocked{}))
	assert.Equal(t, 1, ok.blocked)

	require.NoError(t, Multi{ok}.ExportProfile(ctx, models.Profile{}))
}
