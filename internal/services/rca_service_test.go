package services

import (
	"context"
	"errors"
	"testing"

	"github.com/pipewatch/rca-agent/internal/engine"
	"github.com/pipewatch/rca-agent/internal/models"
)

type workflowStub struct {
	report *models.RCAReport
	errs   []engine.StageError

	gotEvent models.FailureEvent
}

func (w *workflowStub) Run(_ context.Context, event models.FailureEvent) (*models.RCAReport, []engine.StageError) {
	w.gotEvent = event
	return w.report, w.errs
}

type resolutionStub struct {
	found bool
	err   error
}

func (r *resolutionStub) UpdateResolution(context.Context, string, string) (bool, error) {
	return r.found, r.err
}

func failureEvent() models.FailureEvent {
	return models.FailureEvent{PipelineID: "p", TaskID: "t", RunID: "r"}
}

func TestAnalyzeReturnsReportAndErrorStrings(t *testing.T) {
	workflow := &workflowStub{
		report: &models.RCAReport{ReportID: "rep-1", PipelineID: "p", TaskID: "t"},
		errs: []engine.StageError{
			{Stage: engine.StageCollect, Kind: engine.KindCollectorFailure, Err: errors.New("git: timeout")},
		},
	}
	service := NewRCAService(nil, workflow, nil, nil)

	report, errStrings, err := service.Analyze(context.Background(), failureEvent())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.ReportID != "rep-1" {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(errStrings) != 1 {
		t.Fatalf("expected one rendered error, got %v", errStrings)
	}
	if workflow.gotEvent.DetectedAt.IsZero() {
		t.Fatalf("detection time should be defaulted before the run")
	}
}

func TestAnalyzeRejectsIncompleteEvent(t *testing.T) {
	service := NewRCAService(nil, &workflowStub{}, nil, nil)
	if _, _, err := service.Analyze(context.Background(), models.FailureEvent{PipelineID: "p"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestAnalyzeFailsWhenNoReport(t *testing.T) {
	workflow := &workflowStub{errs: []engine.StageError{
		{Stage: engine.StageAggregate, Kind: engine.KindMissingRequiredData, Err: engine.ErrMissingRequiredData},
	}}
	service := NewRCAService(nil, workflow, nil, nil)

	report, errStrings, err := service.Analyze(context.Background(), failureEvent())
	if err == nil || report != nil {
		t.Fatalf("expected failure without report, got %v/%v", report, err)
	}
	if len(errStrings) != 1 {
		t.Fatalf("accumulated errors must be surfaced, got %v", errStrings)
	}
}

func TestResolve(t *testing.T) {
	service := NewRCAService(nil, &workflowStub{}, nil, &resolutionStub{found: true})
	ok, err := service.Resolve(context.Background(), "inc-1", "restarted source db")
	if err != nil || !ok {
		t.Fatalf("resolve should succeed, got %v/%v", ok, err)
	}

	if _, err := service.Resolve(context.Background(), "", "fix"); err == nil {
		t.Fatalf("expected validation error for empty incident id")
	}

	unconfigured := NewRCAService(nil, &workflowStub{}, nil, nil)
	if _, err := unconfigured.Resolve(context.Background(), "inc-1", "fix"); err == nil {
		t.Fatalf("expected error without a resolution store")
	}
}

func TestCollectorNameExtraction(t *testing.T) {
	err := engine.StageError{Err: errors.New("source_health: probe refused")}
	if got := collectorName(err); got != "source_health" {
		t.Fatalf("unexpected collector name %q", got)
	}
	if got := collectorName(engine.StageError{Err: errors.New("no separator")}); got != "unknown" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}
