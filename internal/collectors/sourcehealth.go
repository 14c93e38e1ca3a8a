package collectors

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

// SourceProbe configures one upstream data source to health-check.
type SourceProbe struct {
	Name    string
	Type    string
	URL     string
	Timeout time.Duration
}

// SourceHealthCollector probes configured upstream sources for reachability
// and latency. Individual probe failures are recorded per source; the
// collector itself only fails when it cannot run at all.
type SourceHealthCollector struct {
	probes     []SourceProbe
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSourceHealthCollector constructs a collector over the configured probes.
// No probes means the collector reports absence.
func NewSourceHealthCollector(probes []SourceProbe, logger *slog.Logger) *SourceHealthCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceHealthCollector{
		probes:     probes,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Name identifies the collector in reports and error records.
func (c *SourceHealthCollector) Name() string { return "source_health" }

// Collect probes every configured source concurrently and returns the
// snapshots in configuration order.
func (c *SourceHealthCollector) Collect(ctx context.Context, _ models.FailureEvent) SourceResult[[]models.SourceHealth] {
	if len(c.probes) == 0 {
		return Absent[[]models.SourceHealth]()
	}

	snapshots := make([]models.SourceHealth, len(c.probes))
	var wg sync.WaitGroup
	for i, probe := range c.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshots[i] = c.check(ctx, probe)
		}()
	}
	wg.Wait()
	return Ok(snapshots)
}

func (c *SourceHealthCollector) check(ctx context.Context, probe SourceProbe) models.SourceHealth {
	health := models.SourceHealth{
		SourceName:  probe.Name,
		SourceType:  probe.Type,
		LastChecked: time.Now().UTC(),
	}
	if health.SourceType == "" {
		health.SourceType = "unknown"
	}
	if probe.URL == "" {
		health.Reachable = false
		health.ErrorMessage = "no probe URL configured"
		return health
	}

	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probe.URL, nil)
	if err != nil {
		health.Reachable = false
		health.ErrorMessage = err.Error()
		return health
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	health.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		health.Reachable = false
		health.ErrorMessage = err.Error()
		return health
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		health.Reachable = false
		health.ErrorMessage = fmt.Sprintf("probe returned %s", resp.Status)
		return health
	}

	health.Reachable = true
	return health
}
