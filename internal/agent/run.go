package agent

import (
	"context"
	"fmt"
	"io"

	"github.com/Schera-ole/telemetry-agent/internal/config"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
	"github.com/Schera-ole/telemetry-agent/internal/reconfig"
)

// run is the agent goroutine.
func (a *Agent) run() {
	defer close(a.done)

	a.runCtx, a.cancelRun = context.WithCancel(context.Background())
	a.loopCtx = a.loop.Context(a.runCtx)
	a.engine = reconfig.New(&a.store, a.logger.Named("reconfig"), a.subsystems()...)
	a.engine.Apply(config.NewTree(nil))

	a.ready.Store(true)
	a.outputReady.Store(a.opts.Exporter != nil)
	close(a.readyCh)
	a.logger.Infow("agent started")

	for !a.exited {
		select {
		case <-a.stopCh:
			a.shutdown()
		case <-a.configQ.C():
			a.configQ.Drain(a.onConfig)
		case <-a.threadQ.C():
			a.threadQ.Drain(a.onThread)
		case <-a.sampleQ.C():
			a.drainSamples()
		case <-a.spanQ.C():
			a.drainSpans()
		case <-a.logQ.C():
			a.drainLogs()
		case <-a.blockedQ.C():
			a.blockedQ.Drain(a.onLoopBlocked)
		case <-a.profileQ.C():
			a.profileQ.Drain(a.onProfile)
		case <-a.loop.C():
			a.loop.RunPending()
		case <-a.tickerC():
			a.onTick()
		}
	}
	a.finish()
}

func (a *Agent) drainSamples() {
	var samples []metrics.ThreadSample
	a.sampleQ.Drain(func(ev sampleEvent) {
		a.onSample(ev, &samples)
	})
	a.exportThreads(samples)
}

func (a *Agent) drainSpans() {
	var spans []models.Span
	a.spanQ.Drain(func(span models.Span) {
		if a.keepSpan(span) {
			spans = append(spans, span)
		}
	})
	a.exportSpans(spans)
}

func (a *Agent) drainLogs() {
	var logs []models.LogRecord
	a.logQ.Drain(func(rec models.LogRecord) {
		logs = append(logs, rec)
	})
	a.exportLogs(logs)
}

// shutdown runs on the agent goroutine, either from the stop signal or
// inline from Stop. Events still queued are discarded. The loop itself is
// drained by finish once the current callback has returned.
func (a *Agent) shutdown() {
	if a.exited {
		return
	}
	a.exited = true
	a.ready.Store(false)
	a.outputReady.Store(false)
	a.closeQueues()
	a.stopTicker()
	if a.transport != nil {
		a.transport.Close()
	}
	a.cancelRun()
}

func (a *Agent) finish() {
	a.loop.Shutdown()
	a.shutdownErr = a.closeExporter()
	a.logger.Infow("agent stopped")
}

func (a *Agent) closeExporter() error {
	closer, ok := a.opts.Exporter.(io.Closer)
	if !ok {
		return nil
	}
	if err := closer.Close(); err != nil {
		return fmt.Errorf("close exporter: %w", err)
	}
	return nil
}
