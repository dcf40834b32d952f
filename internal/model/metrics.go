// Package models defines the records that flow from producer threads
// through the agent to exporters.
package models

import "time"

const (
	Counter = "counter"
	Gauge   = "gauge"
)

// MetricsDTO is the JSON form of one exported metric.
type MetricsDTO struct {
	// ID is the full metric name
	ID string `json:"id"`

	// MType is either "counter" or "gauge"
	MType string `json:"type"`

	// Delta is the increment for counter metrics (omitted for gauges)
	Delta *int64 `json:"delta,omitempty"`

	// Value is the value for gauge metrics (omitted for counters)
	Value *float64 `json:"value,omitempty"`
}

// SpanKind is the category of a span. Kinds are bit flags so a set of
// enabled kinds fits in one mask.
type SpanKind uint32

const (
	SpanDNS SpanKind = 1 << iota
	SpanHTTPClient
	SpanHTTPServer
	SpanCustom

	// SpanAll has every kind enabled.
	SpanAll = SpanDNS | SpanHTTPClient | SpanHTTPServer | SpanCustom
)

func (k SpanKind) String() string {
	switch k {
	case SpanDNS:
		return "dns"
	case SpanHTTPClient:
		return "http_client"
	case SpanHTTPServer:
		return "http_server"
	case SpanCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Span is one finished trace span.
type Span struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	ThreadID   uint64            `json:"thread_id"`
	Name       string            `json:"name"`
	Kind       SpanKind          `json:"kind"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	StatusCode int               `json:"status_code"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Duration returns how long the span lasted.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// LogRecord is one log line emitted by a producer thread.
type LogRecord struct {
	ThreadID     uint64            `json:"thread_id"`
	Timestamp    time.Time         `json:"ts"`
	Severity     int               `json:"severity"`
	SeverityText string            `json:"severity_text"`
	Message      string            `json:"message"`
	TraceID      string            `json:"trace_id,omitempty"`
	SpanID       string            `json:"span_id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// LoopBlocked reports that a producer thread's event loop stopped or
// resumed making progress.
type LoopBlocked struct {
	ThreadID  uint64    `json:"thread_id"`
	Blocked   bool      `json:"blocked"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"ts"`
}

// Profile is the result of one profiling request.
type Profile struct {
	ThreadID uint64            `json:"thread_id"`
	Kind     string            `json:"kind"`
	Start    time.Time         `json:"start"`
	Duration time.Duration     `json:"duration"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Data     []byte            `json:"-"`
}
