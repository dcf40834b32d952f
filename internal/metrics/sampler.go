package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ProcessSampler reads process-wide metrics from the OS and the Go runtime.
type ProcessSampler struct {
	proc    *process.Process
	clock   clock.Clock
	started time.Time
	logger  *zap.SugaredLogger
}

// NewProcessSampler samples the current process.
func NewProcessSampler(ctx context.Context, clk clock.Clock, logger *zap.SugaredLogger) (*ProcessSampler, error) {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &ProcessSampler{proc: proc, clock: clk, started: clk.Now(), logger: logger}, nil
}

// Sample collects one snapshot. OS counters that cannot be read on this
// platform are left at zero; only a failure to read memory usage is
// returned as an error.
func (s *ProcessSampler) Sample(ctx context.Context) (ProcessSnapshot, error) {
	now := s.clock.Now()
	snap := ProcessSnapshot{
		Timestamp:  now,
		Uptime:     now.Sub(s.started).Seconds(),
		Goroutines: runtime.NumGoroutine(),
	}

	memInfo, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("read process memory: %w", err)
	}
	snap.RSS = memInfo.RSS

	if times, err := s.proc.TimesWithContext(ctx); err == nil {
		snap.CPUUser = times.User * 1000
		snap.CPUSystem = times.System * 1000
	} else {
		s.logger.Debugw("read cpu times", "error", err)
	}
	if pct, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		snap.CPUPercent = pct
	}
	if fds, err := s.proc.NumFDsWithContext(ctx); err == nil {
		snap.OpenFDs = fds
	}
	if n, err := s.proc.NumThreadsWithContext(ctx); err == nil {
		snap.NumThreads = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.TotalMemory = vm.Total
		snap.FreeMemory = vm.Free
	} else {
		s.logger.Debugw("read system memory", "error", err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.Alloc = ms.Alloc
	snap.HeapAlloc = ms.HeapAlloc
	snap.HeapSys = ms.HeapSys
	snap.HeapIdle = ms.HeapIdle
	snap.HeapInuse = ms.HeapInuse
	snap.HeapObjects = ms.HeapObjects
	snap.StackInuse = ms.StackInuse
	snap.Sys = ms.Sys
	snap.NextGC = ms.NextGC
	snap.TotalAlloc = ms.TotalAlloc
	snap.Mallocs = ms.Mallocs
	snap.Frees = ms.Frees
	snap.NumGC = ms.NumGC
	snap.PauseTotalNs = ms.PauseTotalNs
	snap.GCCPUFraction = ms.GCCPUFraction
	return snap, nil
}
