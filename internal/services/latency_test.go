package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

func TestAnalysisLatenciesP95(t *testing.T) {
	latencies := newAnalysisLatencies(100)
	for i := 1; i <= 20; i++ {
		latencies.observe(time.Duration(i) * time.Millisecond)
	}

	p95 := latencies.p95()
	if p95 < 18*time.Millisecond || p95 > 20*time.Millisecond {
		t.Fatalf("p95 of 1..20ms should land near the top, got %v", p95)
	}
}

func TestAnalysisLatenciesWindowOverwritesOldest(t *testing.T) {
	latencies := newAnalysisLatencies(4)

	// Fill the window with slow samples, then push them all out.
	for i := 0; i < 4; i++ {
		latencies.observe(time.Second)
	}
	var seen int
	for i := 0; i < 4; i++ {
		seen = latencies.observe(time.Millisecond)
	}

	if seen != 8 {
		t.Fatalf("observe should count every sample, got %d", seen)
	}
	if p95 := latencies.p95(); p95 != time.Millisecond {
		t.Fatalf("old samples should be gone from the window, p95 %v", p95)
	}
}

func TestAnalysisLatenciesEmpty(t *testing.T) {
	if p95 := newAnalysisLatencies(8).p95(); p95 != 0 {
		t.Fatalf("empty tracker should report zero, got %v", p95)
	}
}

// logCapture records emitted log messages for cadence assertions.
type logCapture struct {
	mu   sync.Mutex
	msgs []string
}

func (c *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *logCapture) Handle(_ context.Context, rec slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, rec.Message)
	return nil
}

func (c *logCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *logCapture) WithGroup(string) slog.Handler      { return c }

func (c *logCapture) count(msg string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func TestAnalyzeLogsLatencyEveryTwentyRuns(t *testing.T) {
	capture := &logCapture{}
	workflow := &workflowStub{report: &models.RCAReport{ReportID: "rep-1"}}
	service := NewRCAService(slog.New(capture), workflow, nil, nil)

	for i := 0; i < 2*latencyLogEvery; i++ {
		if _, _, err := service.Analyze(context.Background(), failureEvent()); err != nil {
			t.Fatalf("analyze %d: %v", i, err)
		}
	}

	if got := capture.count("analysis latency"); got != 2 {
		t.Fatalf("expected a latency line every %d analyses (2 total), got %d", latencyLogEvery, got)
	}
}
