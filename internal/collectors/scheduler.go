package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

// TaskRunData bundles everything the scheduler knows about one failed run.
type TaskRunData struct {
	Metadata models.TaskMetadata
	Logs     models.TaskLogs
	History  *models.RunHistory
}

// SchedulerCollector fetches task metadata, logs, and run history from the
// workflow scheduler's REST API. Transient request failures are retried with
// exponential backoff before the collector reports a single failure.
type SchedulerCollector struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger

	maxAttempts  int
	retryBackoff time.Duration
}

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = time.Second
	logTruncationBytes   = 100_000
	historyRunLimit      = 20
)

// NewSchedulerCollector constructs a collector for the given scheduler endpoint.
func NewSchedulerCollector(baseURL, username, password string, timeout time.Duration, logger *slog.Logger) *SchedulerCollector {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SchedulerCollector{
		baseURL:      strings.TrimRight(baseURL, "/"),
		username:     username,
		password:     password,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
		maxAttempts:  defaultRetryAttempts,
		retryBackoff: defaultRetryBackoff,
	}
}

// Name identifies the collector in reports and error records.
func (c *SchedulerCollector) Name() string { return "scheduler" }

// Collect gathers the full task-run picture for a failure event.
func (c *SchedulerCollector) Collect(ctx context.Context, event models.FailureEvent) SourceResult[TaskRunData] {
	metadata, err := c.TaskInstance(ctx, event.PipelineID, event.RunID, event.TaskID)
	if err != nil {
		return Failure[TaskRunData](fmt.Errorf("task instance: %w", err))
	}

	logs, err := c.TaskLogs(ctx, event.PipelineID, event.RunID, event.TaskID, event.Attempt)
	if err != nil {
		return Failure[TaskRunData](fmt.Errorf("task logs: %w", err))
	}

	history, err := c.RunHistory(ctx, event.PipelineID)
	if err != nil {
		// History enriches the context but is not required for a diagnosis.
		c.logger.Warn("run history fetch failed", slog.String("pipeline", event.PipelineID), slog.Any("error", err))
		history = nil
	}

	return Ok(TaskRunData{Metadata: metadata, Logs: logs, History: history})
}

// TaskInstance fetches metadata for one task instance.
func (c *SchedulerCollector) TaskInstance(ctx context.Context, pipelineID, runID, taskID string) (models.TaskMetadata, error) {
	var payload struct {
		State     string `json:"state"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		TryNumber int    `json:"try_number"`
		MaxTries  int    `json:"max_tries"`
		Operator  string `json:"operator"`
		Pool      string `json:"pool"`
		Queue     string `json:"queue"`
	}

	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s/taskInstances/%s",
		url.PathEscape(pipelineID), url.PathEscape(runID), url.PathEscape(taskID))
	if err := c.getJSON(ctx, path, nil, &payload); err != nil {
		return models.TaskMetadata{}, err
	}

	metadata := models.TaskMetadata{
		PipelineID:  pipelineID,
		TaskID:      taskID,
		RunID:       runID,
		State:       payload.State,
		Attempt:     payload.TryNumber,
		MaxAttempts: payload.MaxTries,
		Operator:    payload.Operator,
		Pool:        payload.Pool,
		Queue:       payload.Queue,
	}
	if metadata.State == "" {
		metadata.State = "unknown"
	}
	if metadata.Attempt == 0 {
		metadata.Attempt = 1
	}
	if metadata.MaxAttempts == 0 {
		metadata.MaxAttempts = 1
	}

	if start, err := time.Parse(time.RFC3339, payload.StartDate); err == nil {
		metadata.StartDate = start
	}
	if end, err := time.Parse(time.RFC3339, payload.EndDate); err == nil {
		metadata.EndDate = end
	}
	if !metadata.StartDate.IsZero() && !metadata.EndDate.IsZero() {
		metadata.DurationSeconds = metadata.EndDate.Sub(metadata.StartDate).Seconds()
	}

	return metadata, nil
}

// TaskLogs fetches the plain-text log for one task attempt and extracts an
// error-focused snippet.
func (c *SchedulerCollector) TaskLogs(ctx context.Context, pipelineID, runID, taskID string, attempt int) (models.TaskLogs, error) {
	if attempt <= 0 {
		attempt = 1
	}
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s/taskInstances/%s/logs/%d",
		url.PathEscape(pipelineID), url.PathEscape(runID), url.PathEscape(taskID), attempt)

	content, err := c.getText(ctx, path)
	if err != nil {
		return models.TaskLogs{}, err
	}

	lines := strings.Split(strings.TrimSpace(content), "\n")
	return models.TaskLogs{
		Stdout:       content,
		LogLines:     len(lines),
		Truncated:    len(content) > logTruncationBytes,
		ErrorSnippet: extractErrorSnippet(lines, 50),
	}, nil
}

// RunHistory fetches recent pipeline runs and derives failure statistics.
func (c *SchedulerCollector) RunHistory(ctx context.Context, pipelineID string) (*models.RunHistory, error) {
	var payload struct {
		DagRuns []struct {
			State         string `json:"state"`
			ExecutionDate string `json:"execution_date"`
			StartDate     string `json:"start_date"`
			EndDate       string `json:"end_date"`
		} `json:"dag_runs"`
	}

	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns", url.PathEscape(pipelineID))
	params := url.Values{"limit": {fmt.Sprint(historyRunLimit)}, "order_by": {"-execution_date"}}
	if err := c.getJSON(ctx, path, params, &payload); err != nil {
		return nil, err
	}

	history := &models.RunHistory{}
	var successDurations []float64
	var failures7d, total7d int
	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)

	for _, run := range payload.DagRuns {
		summary := models.RunSummary{State: run.State}
		if summary.State == "" {
			summary.State = "unknown"
		}
		if ts, err := time.Parse(time.RFC3339, run.ExecutionDate); err == nil {
			summary.ExecutionDate = ts
		}
		if start, err := time.Parse(time.RFC3339, run.StartDate); err == nil {
			if end, err := time.Parse(time.RFC3339, run.EndDate); err == nil {
				summary.DurationSeconds = end.Sub(start).Seconds()
			}
		}
		history.RecentRuns = append(history.RecentRuns, summary)

		switch summary.State {
		case "success":
			if history.LastSuccess.IsZero() {
				history.LastSuccess = summary.ExecutionDate
			}
			if summary.DurationSeconds > 0 {
				successDurations = append(successDurations, summary.DurationSeconds)
			}
		case "failed":
			if history.LastFailure.IsZero() {
				history.LastFailure = summary.ExecutionDate
			}
		}

		if summary.ExecutionDate.After(cutoff) {
			total7d++
			if summary.State == "failed" {
				failures7d++
			}
		}
	}

	if len(successDurations) > 0 {
		var sum float64
		for _, d := range successDurations {
			sum += d
		}
		history.AvgDurationSeconds = sum / float64(len(successDurations))
	}
	history.TotalRuns7d = total7d
	if total7d > 0 {
		history.FailureRate7d = float64(failures7d) / float64(total7d)
	}

	return history, nil
}

var errorKeywords = []string{"error", "exception", "traceback", "failed", "oom", "killed", "timeout"}

// extractErrorSnippet returns the log window surrounding error-keyword lines,
// falling back to the last maxLines lines when no keyword is present.
func extractErrorSnippet(lines []string, maxLines int) string {
	first, last := -1, -1
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				if first == -1 {
					first = i
				}
				last = i
				break
			}
		}
	}

	if first != -1 {
		start := first - 5
		if start < 0 {
			start = 0
		}
		end := last + 10
		if end > len(lines) {
			end = len(lines)
		}
		return strings.Join(lines[start:end], "\n")
	}

	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

func (c *SchedulerCollector) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.get(ctx, path, params, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *SchedulerCollector) getText(ctx context.Context, path string) (string, error) {
	body, err := c.get(ctx, path, nil, "text/plain")
	return string(body), err
}

func (c *SchedulerCollector) get(ctx context.Context, path string, params url.Values, accept string) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("scheduler base URL not configured")
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	backoff := c.retryBackoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", accept)
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("scheduler returned %s", resp.Status)
			// Client errors will not improve on retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, lastErr
			}
			continue
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("scheduler request failed after %d attempts: %w", c.maxAttempts, lastErr)
}
