package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

func TestSourceHealthProbesRunConcurrently(t *testing.T) {
	// The handler only answers once both probe requests are in flight. With
	// sequential probing the first request would hit the 1s probe timeout
	// before the second ever starts.
	var mu sync.Mutex
	inFlight := 0
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight == 2 {
			close(release)
		}
		mu.Unlock()

		select {
		case <-release:
		case <-time.After(3 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	collector := NewSourceHealthCollector([]SourceProbe{
		{Name: "orders_db", Type: "postgres", URL: server.URL, Timeout: time.Second},
		{Name: "events_api", Type: "http", URL: server.URL, Timeout: time.Second},
	}, nil)

	result := collector.Collect(context.Background(), models.FailureEvent{})
	if result.Failed() || !result.Present {
		t.Fatalf("collect should succeed, got %+v", result)
	}
	if len(result.Value) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(result.Value))
	}
	for _, health := range result.Value {
		if !health.Reachable {
			t.Fatalf("probe %s should be reachable when probed concurrently: %s",
				health.SourceName, health.ErrorMessage)
		}
	}
	// Snapshots stay in configuration order regardless of completion order.
	if result.Value[0].SourceName != "orders_db" || result.Value[1].SourceName != "events_api" {
		t.Fatalf("snapshot order should follow configuration, got %+v", result.Value)
	}
}

func TestSourceHealthStatusMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	collector := NewSourceHealthCollector([]SourceProbe{
		{Name: "healthy", URL: server.URL + "/up"},
		{Name: "broken", URL: server.URL + "/down"},
		{Name: "unconfigured"},
	}, nil)

	result := collector.Collect(context.Background(), models.FailureEvent{})
	if !result.Present {
		t.Fatalf("collect should report snapshots, got %+v", result)
	}

	byName := make(map[string]models.SourceHealth, len(result.Value))
	for _, health := range result.Value {
		byName[health.SourceName] = health
	}
	if !byName["healthy"].Reachable {
		t.Fatalf("2xx probe should be reachable: %+v", byName["healthy"])
	}
	if byName["broken"].Reachable || byName["broken"].ErrorMessage == "" {
		t.Fatalf("5xx probe should be unreachable with a message: %+v", byName["broken"])
	}
	if byName["unconfigured"].Reachable {
		t.Fatalf("probe without a URL should be unreachable: %+v", byName["unconfigured"])
	}
}

func TestSourceHealthAbsentWithoutProbes(t *testing.T) {
	collector := NewSourceHealthCollector(nil, nil)
	result := collector.Collect(context.Background(), models.FailureEvent{})
	if result.Present || result.Failed() {
		t.Fatalf("no probes should mean absence, got %+v", result)
	}
}
