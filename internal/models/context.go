package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskLogs holds the log text extracted for a failed task attempt.
type TaskLogs struct {
	Stdout       string
	Stderr       string
	LogLines     int
	Truncated    bool
	ErrorSnippet string
}

// TaskMetadata describes the failed task instance as reported by the scheduler.
type TaskMetadata struct {
	PipelineID      string
	TaskID          string
	RunID           string
	State           string
	StartDate       time.Time
	EndDate         time.Time
	DurationSeconds float64
	Attempt         int
	MaxAttempts     int
	Operator        string
	Pool            string
	Queue           string
}

// RunSummary captures the state and duration of one historical run.
type RunSummary struct {
	State           string
	ExecutionDate   time.Time
	DurationSeconds float64
}

// RunHistory aggregates recent runs of the failed pipeline.
type RunHistory struct {
	LastSuccess        time.Time
	LastFailure        time.Time
	RecentRuns         []RunSummary
	AvgDurationSeconds float64
	FailureRate7d      float64
	TotalRuns7d        int
}

// Commit is one version-control change relevant to the pipeline.
type Commit struct {
	SHA          string
	ShortSHA     string
	Author       string
	Email        string
	Message      string
	Date         time.Time
	FilesChanged []string
}

// VCSContext bundles recent version-control activity around the pipeline file.
type VCSContext struct {
	RecentCommits        []Commit
	LastPipelineCommit   *Commit
	PipelineFilePath     string
	HoursSinceLastChange float64
}

// SourceHealth is a reachability snapshot for one upstream data source.
type SourceHealth struct {
	SourceName       string
	SourceType       string
	Reachable        bool
	LatencyMs        float64
	ErrorMessage     string
	RowCount         int64
	RowCountPrevious int64
	RowCountDeltaPct float64
	SchemaChanged    bool
	LastChecked      time.Time
}

// MetricsSnapshot records infrastructure metrics at failure time.
type MetricsSnapshot struct {
	Timestamp     time.Time
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// RCAContext is the immutable evidence bundle one analysis run operates on.
// Task metadata and logs are mandatory; everything else is optional.
type RCAContext struct {
	FailureTime time.Time
	Task        TaskMetadata
	Logs        TaskLogs
	History     *RunHistory
	VCS         *VCSContext
	Sources     []SourceHealth
	Metrics     *MetricsSnapshot
}

const promptLogTail = 2000

// PromptContext renders the context as ordered sections for the diagnosis
// capability. Section presence depends on data availability; section order is
// fixed: task, logs, history, version control, source health, metrics.
func (c *RCAContext) PromptContext() string {
	sections := make([]string, 0, 6)

	sections = append(sections, fmt.Sprintf(`## Failed Task
- Pipeline: %s
- Task: %s
- State: %s
- Attempt: %d/%d
- Duration: %s
- Operator: %s`,
		c.Task.PipelineID,
		c.Task.TaskID,
		c.Task.State,
		c.Task.Attempt,
		c.Task.MaxAttempts,
		orNA(c.Task.DurationSeconds, "s"),
		orUnknown(c.Task.Operator),
	))

	logContent := c.Logs.ErrorSnippet
	if logContent == "" {
		logContent = tail(c.Logs.Stdout, promptLogTail)
	}
	sections = append(sections, fmt.Sprintf("## Error Logs\n```\n%s\n```", logContent))

	if c.History != nil && len(c.History.RecentRuns) > 0 {
		states := make([]string, 0, 5)
		for i, run := range c.History.RecentRuns {
			if i == 5 {
				break
			}
			states = append(states, run.State)
		}
		lastSuccess := "Never"
		if !c.History.LastSuccess.IsZero() {
			lastSuccess = c.History.LastSuccess.Format(time.RFC3339)
		}
		sections = append(sections, fmt.Sprintf(`## Run History
- Last success: %s
- Recent runs: [%s]
- Failure rate (7d): %.1f%%
- Avg duration: %s`,
			lastSuccess,
			strings.Join(states, ", "),
			c.History.FailureRate7d*100,
			orNA(c.History.AvgDurationSeconds, "s"),
		))
	}

	if c.VCS != nil && len(c.VCS.RecentCommits) > 0 {
		var commits strings.Builder
		for i, commit := range c.VCS.RecentCommits {
			if i == 3 {
				break
			}
			fmt.Fprintf(&commits, "  - %s: %s (%s)\n", commit.ShortSHA, truncate(commit.Message, 50), commit.Author)
		}
		sections = append(sections, fmt.Sprintf("## Recent Changes\n%s- Hours since last pipeline change: %s",
			commits.String(), orNA(c.VCS.HoursSinceLastChange, "")))
	}

	if len(c.Sources) > 0 {
		var lines strings.Builder
		for _, src := range c.Sources {
			status := "up"
			if !src.Reachable {
				status = "down"
			}
			fmt.Fprintf(&lines, "  - %s: %s (%s)", src.SourceName, status, orNA(src.LatencyMs, "ms"))
			if src.SchemaChanged {
				lines.WriteString(" [SCHEMA CHANGED]")
			}
			if src.RowCountDeltaPct != 0 {
				fmt.Fprintf(&lines, " [Volume: %+.1f%%]", src.RowCountDeltaPct)
			}
			lines.WriteString("\n")
		}
		sections = append(sections, "## Source Health\n"+strings.TrimRight(lines.String(), "\n"))
	}

	if c.Metrics != nil {
		sections = append(sections, fmt.Sprintf(`## Infrastructure Metrics
- CPU: %s%%
- Memory: %s%%
- Disk: %s%%`,
			orNA(c.Metrics.CPUPercent, ""),
			orNA(c.Metrics.MemoryPercent, ""),
			orNA(c.Metrics.DiskPercent, ""),
		))
	}

	return strings.Join(sections, "\n\n")
}

func orNA(value float64, unit string) string {
	if value == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%s", value, unit)
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func tail(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[len(text)-max:]
}

func truncate(text string, max int) string {
	line := strings.SplitN(text, "\n", 2)[0]
	if len(line) > max {
		return line[:max]
	}
	return line
}
