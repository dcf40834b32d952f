package main

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

const (
	workInterval = 250 * time.Millisecond
	// blockEvery is how many work iterations pass between simulated stalls.
	blockEvery = 120
)

// sink is the part of agent.Handle the demo producers use.
type sink interface {
	OnThreadAdded(threadID uint64, name string) error
	OnThreadRemoved(threadID uint64) error
	OnMetricsSample(threadID uint64, snapshot metrics.ThreadSnapshot) error
	OnSpan(span models.Span) error
	OnLog(threadID uint64, record models.LogRecord) error
	OnLoopBlocked(threadID uint64, payload string) error
	OnLoopUnblocked(threadID uint64, payload string) error
}

// producer simulates one instrumented worker thread. Its counters are only
// touched by its own goroutine.
type producer struct {
	id       uint64
	name     string
	requests chan struct{}
	snapshot metrics.ThreadSnapshot
}

// producers is the demo workload. It answers the agent's metrics requests
// from each producer's own goroutine.
type producers struct {
	clock  clock.Clock
	logger *zap.SugaredLogger
	mu     sync.RWMutex
	byID   map[uint64]*producer
}

func newProducers(n int, clk clock.Clock, logger *zap.SugaredLogger) *producers {
	p := &producers{clock: clk, logger: logger, byID: make(map[uint64]*producer, n)}
	for i := 1; i <= n; i++ {
		id := uint64(i)
		p.byID[id] = &producer{
			id:       id,
			name:     "worker-" + strconv.Itoa(i),
			requests: make(chan struct{}, 1),
		}
	}
	return p
}

// RequestMetrics is called on the agent goroutine; it only signals.
func (p *producers) RequestMetrics(threadID uint64) {
	p.mu.RLock()
	w, ok := p.byID[threadID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case w.requests <- struct{}{}:
	default:
	}
}

// Run drives every producer until ctx ends.
func (p *producers) Run(ctx context.Context, s sink) error {
	var wg sync.WaitGroup
	p.mu.RLock()
	for _, w := range p.byID {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runOne(ctx, w, s)
		}()
	}
	p.mu.RUnlock()
	wg.Wait()
	return nil
}

func (p *producers) runOne(ctx context.Context, w *producer, s sink) {
	if err := s.OnThreadAdded(w.id, w.name); err != nil {
		p.logger.Warnw("producer not registered", "thread", w.id, "error", err)
		return
	}
	defer func() { _ = s.OnThreadRemoved(w.id) }()

	ticker := p.clock.Ticker(workInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.requests:
			snap := w.snapshot
			snap.Timestamp = p.clock.Now()
			if err := s.OnMetricsSample(w.id, snap); err != nil {
				return
			}
		case <-ticker.C:
			if err := p.work(w, s); err != nil {
				return
			}
		}
	}
}

// work advances w's counters and emits the telemetry one iteration of a
// real worker would.
func (p *producers) work(w *producer, s sink) error {
	start := p.clock.Now()
	w.snapshot.LoopIterations++
	w.snapshot.EventsProcessed += uint64(1 + rand.IntN(8))
	w.snapshot.EventsWaiting = uint64(rand.IntN(4))
	w.snapshot.ActiveHandles = uint64(2 + rand.IntN(6))
	w.snapshot.ActiveRequests = uint64(rand.IntN(3))
	w.snapshot.HeapUsed = uint64(8<<20 + rand.IntN(4<<20))
	w.snapshot.LoopUtilization = rand.Float64()
	w.snapshot.LoopIdleTime += float64(workInterval.Milliseconds()) * (1 - w.snapshot.LoopUtilization)

	kind := models.SpanKind(1 << rand.IntN(4))
	switch kind {
	case models.SpanDNS:
		w.snapshot.DNSLookups++
	case models.SpanHTTPClient:
		w.snapshot.HTTPClientRequests++
	case models.SpanHTTPServer:
		w.snapshot.HTTPServerRequests++
	}
	if w.snapshot.LoopIterations%40 == 0 {
		w.snapshot.GCCount++
	}

	span := models.Span{
		TraceID:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		SpanID:     strconv.FormatUint(rand.Uint64(), 16),
		ThreadID:   w.id,
		Name:       kind.String(),
		Kind:       kind,
		Start:      start,
		End:        start.Add(time.Duration(1+rand.IntN(50)) * time.Millisecond),
		StatusCode: 200,
	}
	if err := s.OnSpan(span); err != nil {
		return err
	}

	if w.snapshot.LoopIterations%10 == 0 {
		err := s.OnLog(w.id, models.LogRecord{
			Timestamp:    start,
			Severity:     9,
			SeverityText: "INFO",
			Message:      w.name + " processed " + strconv.FormatUint(w.snapshot.EventsProcessed, 10) + " events",
			TraceID:      span.TraceID,
			SpanID:       span.SpanID,
		})
		if err != nil {
			return err
		}
	}

	if w.snapshot.LoopIterations%blockEvery == 0 {
		payload := `{"blockedFor":` + strconv.Itoa(200+rand.IntN(800)) + `}`
		if err := s.OnLoopBlocked(w.id, payload); err != nil {
			return err
		}
		return s.OnLoopUnblocked(w.id, payload)
	}
	return nil
}
