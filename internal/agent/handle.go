package agent

import (
	"weak"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

// Handle is a non-owning reference to an Agent for callbacks that may
// outlive it. Every method resolves the agent first and returns
// ErrAgentStopped if it has been collected.
type Handle struct {
	p weak.Pointer[Agent]
}

// Handle returns a weak handle to a.
func (a *Agent) Handle() Handle {
	return Handle{p: weak.Make(a)}
}

// Agent returns the agent, or nil once it is gone.
func (h Handle) Agent() *Agent {
	return h.p.Value()
}

func (h Handle) with(fn func(*Agent) error) error {
	a := h.p.Value()
	if a == nil {
		return internalerrors.ErrAgentStopped
	}
	return fn(a)
}

func (h Handle) OnConfig(data []byte) error {
	return h.with(func(a *Agent) error { return a.OnConfig(data) })
}

func (h Handle) OnThreadAdded(threadID uint64, name string) error {
	return h.with(func(a *Agent) error { return a.OnThreadAdded(threadID, name) })
}

func (h Handle) OnThreadRemoved(threadID uint64) error {
	return h.with(func(a *Agent) error { return a.OnThreadRemoved(threadID) })
}

func (h Handle) OnMetricsSample(threadID uint64, snapshot metrics.ThreadSnapshot) error {
	return h.with(func(a *Agent) error { return a.OnMetricsSample(threadID, snapshot) })
}

func (h Handle) OnSpan(span models.Span) error {
	return h.with(func(a *Agent) error { return a.OnSpan(span) })
}

func (h Handle) OnLog(threadID uint64, record models.LogRecord) error {
	return h.with(func(a *Agent) error { return a.OnLog(threadID, record) })
}

func (h Handle) OnLoopBlocked(threadID uint64, payload string) error {
	return h.with(func(a *Agent) error { return a.OnLoopBlocked(threadID, payload) })
}

func (h Handle) OnLoopUnblocked(threadID uint64, payload string) error {
	return h.with(func(a *Agent) error { return a.OnLoopUnblocked(threadID, payload) })
}

func (h Handle) OnProfile(req ProfileRequest) error {
	return h.with(func(a *Agent) error { return a.OnProfile(req) })
}
