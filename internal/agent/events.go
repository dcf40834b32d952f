package agent

import (
	"github.com/Schera-ole/telemetry-agent/internal/config"
	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
	"github.com/Schera-ole/telemetry-agent/internal/queue"
)

// Event categories, as reported in self-metrics.
const (
	categoryConfig  = "config"
	categoryThread  = "thread"
	categorySample  = "metrics"
	categorySpan    = "span"
	categoryLog     = "log"
	categoryBlocked = "loop_blocked"
	categoryProfile = "profile"
)

func push[T any](a *Agent, q *queue.Channel[T], item T, category string) error {
	if !q.Push(item) {
		a.metrics.EventsDropped.WithLabelValues(category).Inc()
		return internalerrors.ErrAgentStopped
	}
	a.metrics.EventsEnqueued.WithLabelValues(category).Inc()
	return nil
}

// OnConfig replaces the whole configuration with the JSON object in data.
// Malformed documents are rejected here; everything else is applied on the
// agent goroutine.
func (a *Agent) OnConfig(data []byte) error {
	tree, err := config.Parse(data)
	if err != nil {
		return err
	}
	return push(a, a.configQ, tree, categoryConfig)
}

// OnThreadAdded registers a producer thread.
func (a *Agent) OnThreadAdded(threadID uint64, name string) error {
	return push(a, a.threadQ, threadEvent{meta: metrics.ThreadMeta{ThreadID: threadID, Name: name}, added: true}, categoryThread)
}

// OnThreadRemoved unregisters a producer thread. Samples it still sends
// are dropped.
func (a *Agent) OnThreadRemoved(threadID uint64) error {
	return push(a, a.threadQ, threadEvent{meta: metrics.ThreadMeta{ThreadID: threadID}}, categoryThread)
}

// OnMetricsSample delivers a thread's snapshot, usually in answer to
// ThreadMetricsRequester.RequestMetrics.
func (a *Agent) OnMetricsSample(threadID uint64, snapshot metrics.ThreadSnapshot) error {
	return push(a, a.sampleQ, sampleEvent{threadID: threadID, snapshot: snapshot}, categorySample)
}

// OnSpan delivers a finished span.
func (a *Agent) OnSpan(span models.Span) error {
	return push(a, a.spanQ, span, categorySpan)
}

// OnLog delivers a log record emitted by threadID.
func (a *Agent) OnLog(threadID uint64, record models.LogRecord) error {
	record.ThreadID = threadID
	if record.Timestamp.IsZero() {
		record.Timestamp = a.clock.Now()
	}
	return push(a, a.logQ, record, categoryLog)
}

// OnLoopBlocked reports that threadID's event loop stopped making
// progress. payload describes the stall.
func (a *Agent) OnLoopBlocked(threadID uint64, payload string) error {
	return push(a, a.blockedQ, models.LoopBlocked{
		ThreadID:  threadID,
		Blocked:   true,
		Payload:   payload,
		Timestamp: a.clock.Now(),
	}, categoryBlocked)
}

// OnLoopUnblocked reports that threadID's event loop resumed.
func (a *Agent) OnLoopUnblocked(threadID uint64, payload string) error {
	return push(a, a.blockedQ, models.LoopBlocked{
		ThreadID:  threadID,
		Payload:   payload,
		Timestamp: a.clock.Now(),
	}, categoryBlocked)
}

// OnProfile asks the agent to take a profile. The result is forwarded to
// exporters implementing exporter.ProfileExporter.
func (a *Agent) OnProfile(req ProfileRequest) error {
	if err := validateProfile(req); err != nil {
		return err
	}
	return push(a, a.profileQ, req, categoryProfile)
}

func (a *Agent) closeQueues() {
	a.configQ.Close()
	a.threadQ.Close()
	a.sampleQ.Close()
	a.spanQ.Close()
	a.logQ.Close()
	a.blockedQ.Close()
	a.profileQ.Close()
}
