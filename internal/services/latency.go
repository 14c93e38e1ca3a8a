package services

import (
	"sort"
	"sync"
	"time"
)

const (
	// latencyWindow bounds how many recent diagnosis durations are kept.
	latencyWindow = 1024
	// latencyLogEvery is the facade's p95 log cadence, in analyses.
	latencyLogEvery = 20
)

// analysisLatencies keeps a fixed window of recent diagnosis durations so the
// facade can log a rolling p95 without consulting the metrics registry.
// Oldest samples are overwritten once the window is full.
type analysisLatencies struct {
	mu       sync.Mutex
	window   []time.Duration
	next     int
	full     bool
	observed int
}

func newAnalysisLatencies(size int) *analysisLatencies {
	if size <= 0 {
		size = latencyWindow
	}
	return &analysisLatencies{window: make([]time.Duration, size)}
}

// observe records one diagnosis duration and returns the total number of
// observations so far, which drives the log cadence.
func (a *analysisLatencies) observe(d time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window[a.next] = d
	a.next++
	if a.next == len(a.window) {
		a.next = 0
		a.full = true
	}
	a.observed++
	return a.observed
}

// p95 returns the 95th-percentile duration over the current window, zero when
// nothing has been observed yet.
func (a *analysisLatencies) p95() time.Duration {
	a.mu.Lock()
	n := len(a.window)
	if !a.full {
		n = a.next
	}
	snapshot := append([]time.Duration(nil), a.window[:n]...)
	a.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	return snapshot[int(float64(len(snapshot)-1)*0.95)]
}
