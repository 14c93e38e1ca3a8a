// Package services wires the workflow engine to the transport layer and owns
// cross-cutting concerns: validation, metrics, latency tracking, notification.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pipewatch/rca-agent/internal/engine"
	"github.com/pipewatch/rca-agent/internal/metrics"
	"github.com/pipewatch/rca-agent/internal/models"
	"github.com/pipewatch/rca-agent/internal/notify"
)

// WorkflowRunner executes one diagnosis run.
type WorkflowRunner interface {
	Run(ctx context.Context, event models.FailureEvent) (*models.RCAReport, []engine.StageError)
}

// ResolutionStore records how incidents were resolved.
type ResolutionStore interface {
	UpdateResolution(ctx context.Context, incidentID, resolution string) (bool, error)
}

// RCAService is the application facade used by every front door.
type RCAService struct {
	logger      *slog.Logger
	workflow    WorkflowRunner
	notifier    *notify.SlackNotifier
	resolutions ResolutionStore
	latencies   *analysisLatencies
}

// NewRCAService constructs the service facade. The notifier and resolution
// store may be nil.
func NewRCAService(logger *slog.Logger, workflow WorkflowRunner, notifier *notify.SlackNotifier, resolutions ResolutionStore) *RCAService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RCAService{
		logger:      logger,
		workflow:    workflow,
		notifier:    notifier,
		resolutions: resolutions,
		latencies:   newAnalysisLatencies(latencyWindow),
	}
}

// Analyze runs a full diagnosis for the failure event. The returned strings
// are the non-fatal errors recorded during the run; the error is non-nil only
// when no report could be produced.
func (s *RCAService) Analyze(ctx context.Context, event models.FailureEvent) (*models.RCAReport, []string, error) {
	if event.PipelineID == "" || event.TaskID == "" || event.RunID == "" {
		return nil, nil, fmt.Errorf("pipeline_id, task_id, and run_id are required")
	}
	if event.DetectedAt.IsZero() {
		event.DetectedAt = time.Now().UTC()
	}

	start := time.Now()
	report, stageErrs := s.workflow.Run(ctx, event)
	duration := time.Since(start)

	for _, stageErr := range stageErrs {
		switch stageErr.Kind {
		case engine.KindCollectorFailure:
			metrics.RecordCollectorFailure(collectorName(stageErr))
		case engine.KindCapabilityFailure:
			metrics.RecordFallback()
		}
	}

	if report == nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError)
		s.logger.Error("analysis produced no report",
			slog.String("pipeline", event.PipelineID),
			slog.String("task", event.TaskID),
			slog.Int("errors", len(stageErrs)),
		)
		return nil, engine.ErrorStrings(stageErrs), fmt.Errorf("analysis failed: required context unavailable")
	}

	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess)
	if seen := s.latencies.observe(duration); seen%latencyLogEvery == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.p95()), slog.Int("analyses", seen))
	}

	if s.notifier.Enabled() {
		if err := s.notifier.NotifyReport(ctx, report); err != nil {
			// Notification is advisory; the diagnosis already succeeded.
			s.logger.Warn("slack notification failed", slog.String("report_id", report.ReportID), slog.Any("error", err))
		}
	}

	return report, engine.ErrorStrings(stageErrs), nil
}

// Resolve records the resolution text for a stored incident.
func (s *RCAService) Resolve(ctx context.Context, incidentID, resolution string) (bool, error) {
	if s.resolutions == nil {
		return false, fmt.Errorf("incident store not configured")
	}
	if incidentID == "" || resolution == "" {
		return false, fmt.Errorf("incident id and resolution are required")
	}
	return s.resolutions.UpdateResolution(ctx, incidentID, resolution)
}

// LatencyP95 returns the current p95 analysis latency.
func (s *RCAService) LatencyP95() time.Duration {
	return s.latencies.p95()
}

// collectorName extracts the collector identifier from a recorded failure.
// Collector errors are rendered as "<name>: <cause>".
func collectorName(stageErr engine.StageError) string {
	message := stageErr.Err.Error()
	if idx := strings.Index(message, ":"); idx > 0 {
		return message[:idx]
	}
	return "unknown"
}
