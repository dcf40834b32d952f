// Package agent runs the telemetry agent: a private goroutine owning an
// event loop that ingests events from any number of producer goroutines,
// applies configuration by diff, samples metrics on a timer and forwards
// everything to exporters.
//
// Every field marked loop-owned below is touched only from the agent
// goroutine. Producers interact with the agent exclusively through the
// On* entry points, which enqueue and return.
package agent

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/Schera-ole/telemetry-agent/internal/config"
	"github.com/Schera-ole/telemetry-agent/internal/endpoint"
	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/exporter"
	"github.com/Schera-ole/telemetry-agent/internal/loop"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
	"github.com/Schera-ole/telemetry-agent/internal/queue"
	"github.com/Schera-ole/telemetry-agent/internal/reconfig"
	"github.com/Schera-ole/telemetry-agent/internal/telemetry"
	"github.com/Schera-ole/telemetry-agent/internal/transport"
)

// DefaultInterval is the metrics period used when "interval" is absent.
const DefaultInterval = 3000 * time.Millisecond

// ThreadMetricsRequester asks a producer thread for its metrics. The
// producer answers later, from its own goroutine, through OnMetricsSample.
// RequestMetrics is called on the agent goroutine and must not block.
type ThreadMetricsRequester interface {
	RequestMetrics(threadID uint64)
}

// ProcessSampler reads process-wide metrics. It is called off the agent
// goroutine.
type ProcessSampler interface {
	Sample(ctx context.Context) (metrics.ProcessSnapshot, error)
}

// Options configures an Agent. Every field is optional.
type Options struct {
	// ID identifies the agent in bucket templates. A random UUID by
	// default.
	ID string
	// Exporter receives everything in addition to the StatsD exporter
	// built from the "statsd" configuration key.
	Exporter  exporter.Exporter
	Requester ThreadMetricsRequester
	Sampler   ProcessSampler
	Profiler  Profiler
	// OnStatus runs on the agent goroutine after every transport status
	// change. ctx may be passed to Stop to stop the agent inline.
	OnStatus func(ctx context.Context, status transport.Status)

	Clock    clock.Clock
	Dialer   transport.Dialer
	Resolver endpoint.Resolver
	Metrics  *telemetry.Metrics
	Logger   *zap.SugaredLogger
}

type threadEvent struct {
	meta  metrics.ThreadMeta
	added bool
}

type sampleEvent struct {
	threadID uint64
	snapshot metrics.ThreadSnapshot
}

// Agent is a process-scoped telemetry collector.
type Agent struct {
	opts     Options
	id       string
	hostname string
	clock    clock.Clock
	logger   *zap.SugaredLogger
	metrics  *telemetry.Metrics

	configQ  *queue.Channel[*config.Tree]
	threadQ  *queue.Channel[threadEvent]
	sampleQ  *queue.Channel[sampleEvent]
	spanQ    *queue.Channel[models.Span]
	logQ     *queue.Channel[models.LogRecord]
	blockedQ *queue.Channel[models.LoopBlocked]
	profileQ *queue.Channel[ProfileRequest]
	loop     *loop.Loop

	mu      sync.Mutex
	started bool
	stopped bool
	readyCh chan struct{}
	stopCh  chan struct{}
	done    chan struct{}

	ready           atomic.Bool
	outputReady     atomic.Bool
	transportStatus atomic.Int32
	peer            atomic.String
	threadCount     atomic.Int64
	store           config.Store

	// loop-owned
	runCtx       context.Context
	cancelRun    context.CancelFunc
	loopCtx      context.Context
	exited       bool
	shutdownErr  error
	engine       *reconfig.Engine
	threads      map[uint64]*ThreadRecord
	transport    *transport.Transport
	statsd       *exporter.StatsD
	statsdSpec   string
	statsdBucket string
	statsdTags   string
	endpointGen  uint64
	traceFlags   models.SpanKind
	ticker       *clock.Ticker
	interval     time.Duration
	prevProcess  *metrics.ProcessSnapshot
	sampling     bool
	profiling    bool
}

// New creates a stopped agent. Events pushed before Start are processed
// once it runs.
func New(opts Options) *Agent {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New()
	}
	if opts.Profiler == nil {
		opts.Profiler = NewProfiler(opts.Clock)
	}
	hostname, _ := os.Hostname()
	return &Agent{
		opts:     opts,
		id:       opts.ID,
		hostname: hostname,
		clock:    opts.Clock,
		logger:   opts.Logger.With("agent", opts.ID),
		metrics:  opts.Metrics,
		configQ:  queue.NewChannel[*config.Tree](),
		threadQ:  queue.NewChannel[threadEvent](),
		sampleQ:  queue.NewChannel[sampleEvent](),
		spanQ:    queue.NewChannel[models.Span](),
		logQ:     queue.NewChannel[models.LogRecord](),
		blockedQ: queue.NewChannel[models.LoopBlocked](),
		profileQ: queue.NewChannel[ProfileRequest](),
		loop:     loop.New(),
		readyCh:  make(chan struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		threads:  make(map[uint64]*ThreadRecord),
	}
}

// ID returns the agent id.
func (a *Agent) ID() string {
	return a.id
}

// Start launches the agent goroutine and waits until it is ready to
// process events. Starting a running agent is a no-op. A stopped agent
// cannot be restarted.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return internalerrors.ErrAgentStopped
	}
	if !a.started {
		a.started = true
		go a.run()
	}
	a.mu.Unlock()

	select {
	case <-a.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the agent down and waits for its goroutine to exit. Called
// with a context handed out by the agent itself (exporter calls, status
// callbacks), it shuts down inline instead and returns at once; the
// goroutine finishes draining after the current callback returns.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		if a.loop.Owns(ctx) {
			return nil
		}
		return a.wait(ctx)
	}
	a.stopped = true
	started := a.started
	a.mu.Unlock()

	if !started {
		a.closeQueues()
		return a.closeExporter()
	}
	if a.loop.Owns(ctx) {
		a.shutdown()
		return nil
	}
	close(a.stopCh)
	return a.wait(ctx)
}

func (a *Agent) wait(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-a.done:
		return a.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the agent goroutine has exited.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Ready reports whether the agent loop is running and accepting work.
func (a *Agent) Ready() bool {
	return a.ready.Load()
}

// OutputReady reports whether telemetry currently has somewhere to go:
// the StatsD transport is connected, or no StatsD endpoint is configured
// and a fallback exporter was supplied.
func (a *Agent) OutputReady() bool {
	return a.outputReady.Load()
}

// Metrics returns the agent's self-metrics.
func (a *Agent) Metrics() *telemetry.Metrics {
	return a.metrics
}

// Status is a point-in-time view of the agent for status endpoints.
type Status struct {
	ID              string `json:"id"`
	Ready           bool   `json:"ready"`
	OutputReady     bool   `json:"output_ready"`
	TransportStatus string `json:"transport_status"`
	Peer            string `json:"peer,omitempty"`
	Threads         int64  `json:"threads"`
}

// Status may be called from any goroutine.
func (a *Agent) Status() Status {
	return Status{
		ID:              a.id,
		Ready:           a.ready.Load(),
		OutputReady:     a.outputReady.Load(),
		TransportStatus: transport.Status(a.transportStatus.Load()).String(),
		Peer:            a.peer.Load(),
		Threads:         a.threadCount.Load(),
	}
}

// Config returns the last applied configuration, or nil.
func (a *Agent) Config() *config.Tree {
	return a.store.Current()
}
