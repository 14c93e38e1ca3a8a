package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

func testEvent() models.FailureEvent {
	return models.FailureEvent{
		PipelineID:   "daily_sales_etl",
		TaskID:       "transform_orders",
		RunID:        "scheduled__2026-08-20T02:00:00",
		ErrorMessage: "Task exited with return code 1",
		Attempt:      2,
		DetectedAt:   time.Date(2026, 8, 20, 2, 15, 0, 0, time.UTC),
	}
}

func TestBuildRequiresOnlyMetadataAndLogs(t *testing.T) {
	aggregator := NewAggregator(nil)
	metadata := &models.TaskMetadata{PipelineID: "daily_sales_etl", TaskID: "transform_orders"}
	logs := &models.TaskLogs{Stdout: "java.lang.OutOfMemoryError: Java heap space"}

	rcaCtx, err := aggregator.Build(testEvent(), metadata, logs, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("build with all optional inputs absent: %v", err)
	}
	if rcaCtx.Task.PipelineID != "daily_sales_etl" {
		t.Fatalf("unexpected pipeline %q", rcaCtx.Task.PipelineID)
	}
	if rcaCtx.History != nil || rcaCtx.VCS != nil || rcaCtx.Sources != nil || rcaCtx.Metrics != nil {
		t.Fatalf("optional sections should be absent, got %+v", rcaCtx)
	}
	if !rcaCtx.FailureTime.Equal(testEvent().DetectedAt) {
		t.Fatalf("failure time should come from the event, got %v", rcaCtx.FailureTime)
	}
}

func TestBuildFailsWithoutLogs(t *testing.T) {
	aggregator := NewAggregator(nil)
	metadata := &models.TaskMetadata{PipelineID: "p", TaskID: "t"}

	if _, err := aggregator.Build(testEvent(), metadata, nil, nil, nil, nil, nil); !errors.Is(err, ErrMissingRequiredData) {
		t.Fatalf("expected ErrMissingRequiredData, got %v", err)
	}
	if _, err := aggregator.Build(testEvent(), nil, &models.TaskLogs{}, nil, nil, nil, nil); !errors.Is(err, ErrMissingRequiredData) {
		t.Fatalf("expected ErrMissingRequiredData without metadata, got %v", err)
	}
}

func TestBuildDefaultsFailureTime(t *testing.T) {
	aggregator := NewAggregator(nil)
	event := testEvent()
	event.DetectedAt = time.Time{}

	rcaCtx, err := aggregator.Build(event, &models.TaskMetadata{}, &models.TaskLogs{}, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rcaCtx.FailureTime.IsZero() {
		t.Fatalf("failure time should default to now")
	}
}
