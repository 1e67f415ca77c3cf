// Package nerdstats snapshots the Go runtime for the optional
// end-of-run diagnostics report (engineering.show_nerdstats).
package nerdstats

import (
	"runtime"
	"time"
)

type Stats struct {
	Uptime        time.Duration
	GoVersion     string
	NumCPU        int
	GOMAXPROCS    int
	NumGoroutines int

	HeapAlloc  uint64
	HeapSys    uint64
	TotalAlloc uint64
	NumGC      uint32
}

// Snapshot reads the runtime counters relative to startTime.
func Snapshot(startTime time.Time) Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		Uptime:        time.Since(startTime),
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		NumGoroutines: runtime.NumGoroutine(),
		HeapAlloc:     m.HeapAlloc,
		HeapSys:       m.HeapSys,
		TotalAlloc:    m.TotalAlloc,
		NumGC:         m.NumGC,
	}
}

// GetMemoryPressure buckets heap usage into a coarse label for the
// shutdown report.
func (s Stats) GetMemoryPressure() string {
	if s.HeapSys == 0 {
		return "unknown"
	}
	used := float64(s.HeapAlloc) / float64(s.HeapSys)
	switch {
	case used > 0.9:
		return "high"
	case used > 0.6:
		return "moderate"
	}
	return "low"
}

// GetGoroutineHealthStatus flags runaway goroutine counts.
func (s Stats) GetGoroutineHealthStatus() string {
	switch {
	case s.NumGoroutines > 10000:
		return "leaking"
	case s.NumGoroutines > 1000:
		return "elevated"
	}
	return "normal"
}
