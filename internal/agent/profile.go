package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

// ProfileBase is shared by every profile request.
type ProfileBase struct {
	ThreadID uint64
	Duration time.Duration
	Metadata map[string]string
}

// ProfileRequest is one of CPUProfile, HeapProfile, HeapSamplingProfile or
// HeapSnapshot.
type ProfileRequest interface {
	Base() ProfileBase
	profileRequest()
}

// CPUProfile samples CPU usage for Duration.
type CPUProfile struct {
	ProfileBase
}

// HeapProfile records the heap after Duration. With TrackAllocations the
// allocation profile is written instead of the in-use one.
type HeapProfile struct {
	ProfileBase
	TrackAllocations bool
}

// HeapSamplingProfile records the heap after Duration with a custom
// sampling interval in bytes.
type HeapSamplingProfile struct {
	ProfileBase
	SampleInterval int
}

// HeapSnapshot writes the heap immediately after a collection.
type HeapSnapshot struct {
	ProfileBase
}

func (p CPUProfile) Base() ProfileBase          { return p.ProfileBase }
func (p HeapProfile) Base() ProfileBase         { return p.ProfileBase }
func (p HeapSamplingProfile) Base() ProfileBase { return p.ProfileBase }
func (p HeapSnapshot) Base() ProfileBase        { return p.ProfileBase }

func (CPUProfile) profileRequest()          {}
func (HeapProfile) profileRequest()         {}
func (HeapSamplingProfile) profileRequest() {}
func (HeapSnapshot) profileRequest()        {}

// ProfileKind names the variant of req.
func ProfileKind(req ProfileRequest) string {
	switch req.(type) {
	case CPUProfile:
		return "cpu"
	case HeapProfile:
		return "heap"
	case HeapSamplingProfile:
		return "heap_sampling"
	case HeapSnapshot:
		return "heap_snapshot"
	default:
		return "unknown"
	}
}

func validateProfile(req ProfileRequest) error {
	switch r := req.(type) {
	case CPUProfile, HeapProfile:
		if r.Base().Duration <= 0 {
			return fmt.Errorf("%s profile needs a positive duration", ProfileKind(req))
		}
	case HeapSamplingProfile:
		if r.Duration <= 0 || r.SampleInterval <= 0 {
			return errors.New("heap sampling profile needs a positive duration and interval")
		}
	case HeapSnapshot:
	default:
		return internalerrors.ErrUnknownProfileKind
	}
	return nil
}

// Profiler produces pprof-encoded profiles. Methods block for the
// requested duration and are called off the agent goroutine.
type Profiler interface {
	CPU(ctx context.Context, d time.Duration) ([]byte, error)
	Heap(ctx context.Context, d time.Duration, trackAllocations bool) ([]byte, error)
	HeapSampling(ctx context.Context, d time.Duration, interval int) ([]byte, error)
	Snapshot(ctx context.Context) ([]byte, error)
}

// runProfile dispatches req to p.
func runProfile(ctx context.Context, p Profiler, req ProfileRequest) ([]byte, error) {
	switch r := req.(type) {
	case CPUProfile:
		return p.CPU(ctx, r.Duration)
	case HeapProfile:
		return p.Heap(ctx, r.Duration, r.TrackAllocations)
	case HeapSamplingProfile:
		return p.HeapSampling(ctx, r.Duration, r.SampleInterval)
	case HeapSnapshot:
		return p.Snapshot(ctx)
	default:
		return nil, internalerrors.ErrUnknownProfileKind
	}
}

// pprofProfiler profiles the whole process with runtime/pprof.
type pprofProfiler struct {
	clock clock.Clock
	// mu serializes heap sampling, which changes a process-wide rate.
	mu sync.Mutex
}

// NewProfiler returns the runtime/pprof backed Profiler.
func NewProfiler(clk clock.Clock) Profiler {
	if clk == nil {
		clk = clock.New()
	}
	return &pprofProfiler{clock: clk}
}

func (p *pprofProfiler) sleep(ctx context.Context, d time.Duration) error {
	timer := p.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pprofProfiler) CPU(ctx context.Context, d time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	if err := pprof.StartCPUProfile(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrProfileInProgress, err)
	}
	err := p.sleep(ctx, d)
	pprof.StopCPUProfile()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *pprofProfiler) Heap(ctx context.Context, d time.Duration, trackAllocations bool) ([]byte, error) {
	if err := p.sleep(ctx, d); err != nil {
		return nil, err
	}
	name := "heap"
	if trackAllocations {
		name = "allocs"
	}
	return writeProfile(name)
}

func (p *pprofProfiler) HeapSampling(ctx context.Context, d time.Duration, interval int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous := runtime.MemProfileRate
	runtime.MemProfileRate = interval
	defer func() { runtime.MemProfileRate = previous }()
	if err := p.sleep(ctx, d); err != nil {
		return nil, err
	}
	return writeProfile("heap")
}

func (p *pprofProfiler) Snapshot(context.Context) ([]byte, error) {
	runtime.GC()
	return writeProfile("heap")
}

func writeProfile(name string) ([]byte, error) {
	prof := pprof.Lookup(name)
	if prof == nil {
		return nil, fmt.Errorf("profile %q not available", name)
	}
	var buf bytes.Buffer
	if err := prof.WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("write %s profile: %w", name, err)
	}
	return buf.Bytes(), nil
}

// newProfile wraps profile data for exporters.
func newProfile(req ProfileRequest, start time.Time, data []byte) models.Profile {
	base := req.Base()
	return models.Profile{
		ThreadID: base.ThreadID,
		Kind:     ProfileKind(req),
		Start:    start,
		Duration: base.Duration,
		Metadata: base.Metadata,
		Data:     data,
	}
}
