package metrics

import "time"

// ProcessSnapshot holds process-wide values sampled on one metrics tick.
type ProcessSnapshot struct {
	Timestamp time.Time

	Uptime     float64
	RSS        uint64
	CPUUser    float64
	CPUSystem  float64
	CPUPercent float64
	OpenFDs    int32
	NumThreads int32

	TotalMemory uint64
	FreeMemory  uint64

	Goroutines    int
	Alloc         uint64
	HeapAlloc     uint64
	HeapSys       uint64
	HeapIdle      uint64
	HeapInuse     uint64
	HeapObjects   uint64
	StackInuse    uint64
	Sys           uint64
	NextGC        uint64
	TotalAlloc    uint64
	Mallocs       uint64
	Frees         uint64
	NumGC         uint32
	PauseTotalNs  uint64
	GCCPUFraction float64
}

// ThreadSnapshot holds the values a producer thread reports about itself.
type ThreadSnapshot struct {
	Timestamp time.Time

	LoopIterations     uint64
	LoopIdleTime       float64
	LoopUtilization    float64
	EventsProcessed    uint64
	EventsWaiting      uint64
	ActiveHandles      uint64
	ActiveRequests     uint64
	HeapUsed           uint64
	DNSLookups         uint64
	HTTPClientRequests uint64
	HTTPServerRequests uint64
	GCCount            uint64
}

// ThreadMeta names a registered producer thread.
type ThreadMeta struct {
	ThreadID uint64
	Name     string
}

// ThreadSample is one thread's current snapshot with the one stored before
// it. Prev is nil for the first sample after registration.
type ThreadSample struct {
	Meta ThreadMeta
	Cur  ThreadSnapshot
	Prev *ThreadSnapshot
}

// ProcessFields is the schema of ProcessSnapshot.
var ProcessFields = []Field[ProcessSnapshot]{
	{Desc{"uptime", Gauge, "s"}, func(s *ProcessSnapshot) float64 { return s.Uptime }},
	{Desc{"rss", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.RSS) }},
	{Desc{"cpuUser", Counter, "ms"}, func(s *ProcessSnapshot) float64 { return s.CPUUser }},
	{Desc{"cpuSystem", Counter, "ms"}, func(s *ProcessSnapshot) float64 { return s.CPUSystem }},
	{Desc{"cpuPercent", Gauge, "percent"}, func(s *ProcessSnapshot) float64 { return s.CPUPercent }},
	{Desc{"openFds", Gauge, ""}, func(s *ProcessSnapshot) float64 { return float64(s.OpenFDs) }},
	{Desc{"numThreads", Gauge, ""}, func(s *ProcessSnapshot) float64 { return float64(s.NumThreads) }},
	{Desc{"totalMemory", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.TotalMemory) }},
	{Desc{"freeMemory", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.FreeMemory) }},
	{Desc{"goroutines", Gauge, ""}, func(s *ProcessSnapshot) float64 { return float64(s.Goroutines) }},
	{Desc{"alloc", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.Alloc) }},
	{Desc{"heapAlloc", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.HeapAlloc) }},
	{Desc{"heapSys", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.HeapSys) }},
	{Desc{"heapIdle", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.HeapIdle) }},
	{Desc{"heapInuse", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.HeapInuse) }},
	{Desc{"heapObjects", Gauge, ""}, func(s *ProcessSnapshot) float64 { return float64(s.HeapObjects) }},
	{Desc{"stackInuse", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.StackInuse) }},
	{Desc{"sys", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.Sys) }},
	{Desc{"nextGc", Gauge, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.NextGC) }},
	{Desc{"totalAlloc", Counter, "bytes"}, func(s *ProcessSnapshot) float64 { return float64(s.TotalAlloc) }},
	{Desc{"mallocs", Counter, ""}, func(s *ProcessSnapshot) float64 { return float64(s.Mallocs) }},
	{Desc{"frees", Counter, ""}, func(s *ProcessSnapshot) float64 { return float64(s.Frees) }},
	{Desc{"gcCount", Counter, ""}, func(s *ProcessSnapshot) float64 { return float64(s.NumGC) }},
	{Desc{"gcPauseTotal", Counter, "ns"}, func(s *ProcessSnapshot) float64 { return float64(s.PauseTotalNs) }},
	{Desc{"gcCpuFraction", Gauge, ""}, func(s *ProcessSnapshot) float64 { return s.GCCPUFraction }},
}

// ThreadFields is the schema of ThreadSnapshot.
var ThreadFields = []Field[ThreadSnapshot]{
	{Desc{"loopIterations", Counter, ""}, func(s *ThreadSnapshot) float64 { return float64(s.LoopIterations) }},
	{Desc{"loopIdleTime", Counter, "ms"}, func(s *ThreadSnapshot) float64 { return s.LoopIdleTime }},
	{Desc{"loopUtilization", Gauge, "ratio"}, func(s *ThreadSnapshot) float64 { return s.LoopUtilization }},
	{Desc{"eventsProcessed", Counter, ""}, func(s *ThreadSnapshot) float64 { return float64(s.EventsProcessed) }},
	{Desc{"eventsWaiting", Gauge, ""}, func(s *ThreadSnapshot) float64 { return float64(s.EventsWaiting) }},
	{Desc{"activeHandles", Gauge, ""}, func(s *ThreadSnapshot) float64 { return float64(s.ActiveHandles) }},
	{Desc{"activeRequests", Gauge, ""}, func(s *ThreadSnapshot) float64 { return float64(s.ActiveRequests) }},
	{Desc{"heapUsed", Gauge, "bytes"}, func(s *ThreadSnapshot) float64 { return float64(s.HeapUsed) }},
	{Desc{"dnsLookups", Counter, ""}, func(s *ThreadSnapshot) float64 { return float64(s.DNSLookups) }},
	{Desc{"httpClientRequests", Counter, ""}, func(s *ThreadSnapshot) float64 { return float64(s.HTTPClientRequests) }},
	{Desc{"httpServerRequests", Counter, ""}, func(s *ThreadSnapshot) float64 { return float64(s.HTTPServerRequests) }},
	{Desc{"gcCount", Counter, ""}, func(s *ThreadSnapshot) float64 { return float64(s.GCCount) }},
}
