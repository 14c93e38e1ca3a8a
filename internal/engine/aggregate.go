package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

// ErrMissingRequiredData is returned when the mandatory evidence (task
// metadata and logs) could not be collected. A run that hits this produces no
// report.
var ErrMissingRequiredData = errors.New("missing required data")

// Aggregator assembles collector outputs into the immutable evidence bundle
// the analyzer operates on. Optional sources are attached when present and
// silently omitted otherwise.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator constructs an aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Build validates that the mandatory evidence is present and assembles the
// analysis context. Task metadata and logs are required; history, version
// control, source health, and infrastructure metrics are optional.
func (a *Aggregator) Build(
	event models.FailureEvent,
	metadata *models.TaskMetadata,
	logs *models.TaskLogs,
	history *models.RunHistory,
	vcs *models.VCSContext,
	sources []models.SourceHealth,
	metrics *models.MetricsSnapshot,
) (*models.RCAContext, error) {
	if metadata == nil || logs == nil {
		return nil, ErrMissingRequiredData
	}

	failureTime := event.DetectedAt
	if failureTime.IsZero() {
		failureTime = time.Now().UTC()
	}

	rcaCtx := &models.RCAContext{
		FailureTime: failureTime,
		Task:        *metadata,
		Logs:        *logs,
		History:     history,
		VCS:         vcs,
		Sources:     sources,
		Metrics:     metrics,
	}

	a.logger.Debug("context assembled",
		slog.String("pipeline", event.PipelineID),
		slog.String("task", event.TaskID),
		slog.Bool("has_history", history != nil),
		slog.Bool("has_vcs", vcs != nil),
		slog.Int("sources", len(sources)),
	)

	return rcaCtx, nil
}
