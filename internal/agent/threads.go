package agent

import (
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
)

// ThreadRecord is the agent's view of one producer thread.
type ThreadRecord struct {
	Meta    metrics.ThreadMeta
	Blocked bool

	prev    metrics.ThreadSnapshot
	hasPrev bool
}

// observe turns snapshot into a sample paired with the previous one and
// remembers it for the next delta.
func (r *ThreadRecord) observe(snapshot metrics.ThreadSnapshot) metrics.ThreadSample {
	sample := metrics.ThreadSample{Meta: r.Meta, Cur: snapshot}
	if r.hasPrev {
		prev := r.prev
		sample.Prev = &prev
	}
	r.prev = snapshot
	r.hasPrev = true
	return sample
}

func (a *Agent) onThread(ev threadEvent) {
	if ev.added {
		if rec, ok := a.threads[ev.meta.ThreadID]; ok {
			rec.Meta.Name = ev.meta.Name
			return
		}
		a.threads[ev.meta.ThreadID] = &ThreadRecord{Meta: ev.meta}
		a.logger.Debugw("thread registered", "thread", ev.meta.ThreadID, "name", ev.meta.Name)
	} else {
		if _, ok := a.threads[ev.meta.ThreadID]; !ok {
			return
		}
		delete(a.threads, ev.meta.ThreadID)
		a.logger.Debugw("thread unregistered", "thread", ev.meta.ThreadID)
	}
	a.threadCount.Store(int64(len(a.threads)))
	a.metrics.ThreadsRegistered.Set(float64(len(a.threads)))
}

// onSample returns false when the sample's thread is not registered.
func (a *Agent) onSample(ev sampleEvent, out *[]metrics.ThreadSample) bool {
	rec, ok := a.threads[ev.threadID]
	if !ok {
		a.metrics.EventsDropped.WithLabelValues(categorySample).Inc()
		return false
	}
	*out = append(*out, rec.observe(ev.snapshot))
	return true
}
