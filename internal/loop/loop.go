// Package loop implements the single-goroutine callback executor that backs
// an agent. Blocking work runs elsewhere and reports back through callbacks
// posted to the loop, so loop-owned state is only ever touched from one
// goroutine.
package loop

import (
	"context"

	"go.uber.org/atomic"

	"github.com/Schera-ole/telemetry-agent/internal/queue"
)

type ctxKey struct{}

// Loop runs posted callbacks one at a time on whichever goroutine drives it.
type Loop struct {
	tasks   *queue.Channel[func()]
	pending atomic.Int64
}

// New creates an open loop.
func New() *Loop {
	return &Loop{tasks: queue.NewChannel[func()]()}
}

// Post schedules fn on the loop goroutine. It reports false once the loop
// has shut down.
func (l *Loop) Post(fn func()) bool {
	return l.tasks.Push(fn)
}

// Async runs work on a new goroutine and then runs done on the loop. The
// operation counts as pending work until done has returned.
func (l *Loop) Async(work func(), done func()) {
	l.pending.Inc()
	go func() {
		work()
		if !l.Post(func() {
			defer l.pending.Dec()
			done()
		}) {
			l.pending.Dec()
		}
	}()
}

// Pending returns the number of Async operations whose completion has not
// run yet.
func (l *Loop) Pending() int64 {
	return l.pending.Load()
}

// C is signalled whenever callbacks are waiting.
func (l *Loop) C() <-chan struct{} {
	return l.tasks.C()
}

// RunPending runs every waiting callback, including ones posted while it
// runs. Must be called from the loop goroutine.
func (l *Loop) RunPending() int {
	return l.tasks.Drain(func(fn func()) { fn() })
}

// Shutdown keeps running callbacks until no Async operation is outstanding,
// then closes the loop. Must be called from the loop goroutine.
func (l *Loop) Shutdown() {
	for {
		l.RunPending()
		if l.pending.Load() == 0 {
			break
		}
		<-l.tasks.C()
	}
	l.tasks.Close()
	l.RunPending()
}

// Run drives the loop on the calling goroutine until ctx is cancelled, then
// shuts it down.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Shutdown()
			return
		case <-l.tasks.C():
			l.RunPending()
		}
	}
}

// Context returns a child of parent marked as executing on this loop.
func (l *Loop) Context(parent context.Context) context.Context {
	return context.WithValue(parent, ctxKey{}, l)
}

// Owns reports whether ctx was produced by Context on this loop.
func (l *Loop) Owns(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(ctxKey{}).(*Loop)
	return owner == l
}
