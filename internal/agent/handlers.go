package agent

import (
	"strings"
	"time"

	"github.com/Schera-ole/telemetry-agent/internal/config"
	"github.com/Schera-ole/telemetry-agent/internal/endpoint"
	"github.com/Schera-ole/telemetry-agent/internal/exporter"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
	"github.com/Schera-ole/telemetry-agent/internal/reconfig"
	"github.com/Schera-ole/telemetry-agent/internal/transport"
)

// Configuration keys read by the agent.
const (
	keyInterval       = "interval"
	keyPauseMetrics   = "pauseMetrics"
	keyStatsd         = "statsd"
	keyStatsdBucket   = "statsdBucket"
	keyStatsdTags     = "statsdTags"
	keyTracingEnabled = "tracingEnabled"
	keyTracingBlack   = "tracingModulesBlacklist"
	keyApp            = "app"
	keyEnv            = "env"
	keyHostname       = "hostname"
	keyTags           = "tags"
)

func (a *Agent) subsystems() []reconfig.Subsystem {
	return []reconfig.Subsystem{
		{
			Name:  "transport",
			Paths: []string{keyStatsd, keyStatsdBucket, keyStatsdTags, keyApp, keyEnv, keyHostname, keyTags},
			Apply: a.applyTransport,
		},
		{
			Name:  "tracing",
			Paths: []string{keyTracingEnabled, keyTracingBlack},
			Apply: a.applyTracing,
		},
		{
			Name:  "metrics",
			Paths: []string{keyInterval, keyPauseMetrics},
			Apply: a.applyTimer,
		},
	}
}

func (a *Agent) onConfig(tree *config.Tree) {
	a.engine.Apply(tree)
	a.metrics.ConfigUpdates.Inc()
}

// exporters returns the live exporters, StatsD first.
func (a *Agent) exporters() exporter.Multi {
	var m exporter.Multi
	if a.statsd != nil {
		m = append(m, a.statsd)
	}
	if a.opts.Exporter != nil {
		m = append(m, a.opts.Exporter)
	}
	return m
}

// applyTransport reconciles the StatsD transport with the "statsd" key and
// rebuilds the StatsD exporter from the template keys.
func (a *Agent) applyTransport(tree *config.Tree) {
	addr := strings.TrimSpace(tree.String(keyStatsd, ""))
	if addr == "" {
		a.teardownTransport()
		return
	}
	spec, err := endpoint.Parse(addr)
	if err != nil {
		a.logger.Warnw("ignoring statsd endpoint", "statsd", addr, "error", err)
		a.teardownTransport()
		return
	}

	vars := exporter.Vars{
		Env:      tree.String(keyEnv, "prod"),
		App:      tree.String(keyApp, "untitled application"),
		Hostname: tree.String(keyHostname, a.hostname),
		ID:       a.id,
		Tags:     tree.StringSlice(keyTags),
	}
	// A lookup still in flight provisions with whatever the latest tree
	// says, not with the values current when it started.
	a.statsdBucket = exporter.Expand(tree.String(keyStatsdBucket, exporter.DefaultBucket), vars)
	a.statsdTags = exporter.Expand(tree.String(keyStatsdTags, ""), vars)

	if spec.String() == a.statsdSpec && a.transport != nil {
		a.statsd = exporter.NewStatsD(a.transport, a.statsdBucket, a.statsdTags, a.logger)
		return
	}
	a.statsdSpec = spec.String()
	a.endpointGen++
	gen := a.endpointGen

	var (
		ep         *endpoint.Endpoint
		resolveErr error
	)
	ctx := a.runCtx
	a.loop.Async(func() {
		ep, resolveErr = endpoint.Resolve(ctx, a.opts.Resolver, spec)
	}, func() {
		if a.exited || gen != a.endpointGen {
			return
		}
		if resolveErr != nil {
			a.logger.Warnw("statsd endpoint unusable", "statsd", spec.String(), "error", resolveErr)
			a.teardownTransport()
			return
		}
		a.provisionTransport(ep)
	})
}

func (a *Agent) provisionTransport(ep *endpoint.Endpoint) {
	if a.transport == nil || a.transport.Network() != ep.Protocol {
		if a.transport != nil {
			a.transport.Close()
		}
		var t *transport.Transport
		t = transport.ForEndpoint(ep, transport.Options{
			Loop:   a.loop,
			Clock:  a.clock,
			Dialer: a.opts.Dialer,
			OnStatus: func(s transport.Status) {
				a.onTransportStatus(t, s)
			},
			Logger: a.logger.Named("transport"),
		})
		a.transport = t
	}
	a.statsd = exporter.NewStatsD(a.transport, a.statsdBucket, a.statsdTags, a.logger)
	a.outputReady.Store(false)
	a.logger.Infow("statsd endpoint configured", "endpoint", ep.Spec.String(), "addresses", len(ep.Addrs))
	a.transport.Setup(ep)
}

func (a *Agent) teardownTransport() {
	a.endpointGen++
	a.statsdSpec = ""
	a.statsdBucket = ""
	a.statsdTags = ""
	a.statsd = nil
	if a.transport != nil {
		a.transport.Close()
		a.transport = nil
	}
	a.transportStatus.Store(int32(transport.StatusInitial))
	a.peer.Store("")
	a.metrics.TransportStatus.Set(float64(transport.StatusInitial))
	a.outputReady.Store(a.opts.Exporter != nil && !a.exited)
}

func (a *Agent) onTransportStatus(t *transport.Transport, s transport.Status) {
	if t != a.transport || a.exited {
		return
	}
	a.transportStatus.Store(int32(s))
	a.peer.Store(t.Peer())
	a.metrics.TransportStatus.Set(float64(s))
	a.outputReady.Store(s == transport.StatusConnected)
	switch s {
	case transport.StatusConnected:
		a.logger.Infow("statsd connected", "peer", t.Peer())
	case transport.StatusConnectionError:
		a.logger.Debugw("statsd unreachable, retrying")
	}
	if a.opts.OnStatus != nil {
		a.opts.OnStatus(a.loopCtx, s)
	}
}

func (a *Agent) applyTracing(tree *config.Tree) {
	if !tree.Bool(keyTracingEnabled, false) {
		a.traceFlags = 0
	} else {
		blacklist := models.SpanKind(tree.Int(keyTracingBlack, 0))
		a.traceFlags = models.SpanAll &^ blacklist
	}
	a.logger.Debugw("trace filter updated", "kinds", a.traceFlags.String())
}

func (a *Agent) applyTimer(tree *config.Tree) {
	a.stopTicker()
	a.interval = tree.Milliseconds(keyInterval, DefaultInterval)
	if a.interval <= 0 || tree.Bool(keyPauseMetrics, false) {
		a.logger.Infow("metrics collection paused")
		return
	}
	a.ticker = a.clock.Ticker(a.interval)
	a.logger.Debugw("metrics timer started", "interval", a.interval)
}

func (a *Agent) stopTicker() {
	if a.ticker != nil {
		a.ticker.Stop()
		a.ticker = nil
	}
}

func (a *Agent) tickerC() <-chan time.Time {
	if a.ticker == nil {
		return nil
	}
	return a.ticker.C
}

// onTick samples the process and asks every thread for its metrics.
func (a *Agent) onTick() {
	if a.opts.Sampler != nil && !a.sampling {
		a.sampling = true
		var (
			snap metrics.ProcessSnapshot
			err  error
		)
		ctx := a.runCtx
		a.loop.Async(func() {
			snap, err = a.opts.Sampler.Sample(ctx)
		}, func() {
			a.sampling = false
			if a.exited {
				return
			}
			if err != nil {
				a.logger.Warnw("process sample failed", "error", err)
				return
			}
			a.exportProcess(snap)
		})
	}
	if a.opts.Requester != nil {
		for id := range a.threads {
			a.opts.Requester.RequestMetrics(id)
		}
	}
}

func (a *Agent) exportProcess(snap metrics.ProcessSnapshot) {
	cur := &snap
	err := a.exporters().ExportProcessMetrics(a.loopCtx, cur, a.prevProcess)
	a.metrics.ObserveExport("process", err)
	if err != nil {
		a.logger.Debugw("process metrics export failed", "error", err)
	}
	a.prevProcess = cur
}

func (a *Agent) exportThreads(samples []metrics.ThreadSample) {
	if len(samples) == 0 || a.exited {
		return
	}
	err := a.exporters().ExportThreadMetrics(a.loopCtx, samples)
	a.metrics.ObserveExport("thread", err)
	if err != nil {
		a.logger.Debugw("thread metrics export failed", "error", err)
	}
}

// keepSpan applies the trace filter.
func (a *Agent) keepSpan(span models.Span) bool {
	if span.Kind&a.traceFlags == 0 {
		a.metrics.EventsDropped.WithLabelValues(categorySpan).Inc()
		return false
	}
	return true
}

func (a *Agent) exportSpans(spans []models.Span) {
	if len(spans) == 0 || a.exited {
		return
	}
	err := a.exporters().ExportSpans(a.loopCtx, spans)
	a.metrics.ObserveExport("span", err)
	if err != nil {
		a.logger.Debugw("span export failed", "spans", len(spans), "error", err)
	}
}

func (a *Agent) exportLogs(logs []models.LogRecord) {
	if len(logs) == 0 || a.exited {
		return
	}
	err := a.exporters().ExportLogs(a.loopCtx, logs)
	a.metrics.ObserveExport("log", err)
	if err != nil {
		a.logger.Debugw("log export failed", "logs", len(logs), "error", err)
	}
}

func (a *Agent) onLoopBlocked(ev models.LoopBlocked) {
	if a.exited {
		return
	}
	if rec, ok := a.threads[ev.ThreadID]; ok {
		rec.Blocked = ev.Blocked
	}
	if ev.Blocked {
		a.logger.Warnw("event loop blocked", "thread", ev.ThreadID, "payload", ev.Payload)
	} else {
		a.logger.Infow("event loop unblocked", "thread", ev.ThreadID)
	}
	err := a.exporters().ExportLoopBlocked(a.loopCtx, ev)
	a.metrics.ObserveExport("loop_blocked", err)
	if err != nil {
		a.logger.Debugw("loop blocked export failed", "error", err)
	}
}

func (a *Agent) onProfile(req ProfileRequest) {
	if a.exited {
		return
	}
	if a.profiling {
		a.metrics.EventsDropped.WithLabelValues(categoryProfile).Inc()
		a.logger.Warnw("profile request dropped, another profile is running", "kind", ProfileKind(req))
		return
	}
	a.profiling = true
	start := a.clock.Now()
	var (
		data []byte
		err  error
	)
	ctx := a.runCtx
	a.loop.Async(func() {
		data, err = runProfile(ctx, a.opts.Profiler, req)
	}, func() {
		a.profiling = false
		if a.exited {
			return
		}
		if err != nil {
			a.logger.Warnw("profile failed", "kind", ProfileKind(req), "error", err)
			return
		}
		perr := a.exporters().ExportProfile(a.loopCtx, newProfile(req, start, data))
		a.metrics.ObserveExport("profile", perr)
		if perr != nil {
			a.logger.Debugw("profile export failed", "error", perr)
		}
	})
}
