package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pipewatch/rca-agent/internal/collectors"
	"github.com/pipewatch/rca-agent/internal/models"
)

type fakeTaskRuns struct {
	result collectors.SourceResult[collectors.TaskRunData]
}

func (f fakeTaskRuns) Name() string { return "scheduler" }
func (f fakeTaskRuns) Collect(context.Context, models.FailureEvent) collectors.SourceResult[collectors.TaskRunData] {
	return f.result
}

type fakeVCS struct {
	result collectors.SourceResult[*models.VCSContext]
}

func (f fakeVCS) Name() string { return "git" }
func (f fakeVCS) Collect(context.Context, models.FailureEvent) collectors.SourceResult[*models.VCSContext] {
	return f.result
}

type fakeHealth struct {
	result collectors.SourceResult[[]models.SourceHealth]
}

func (f fakeHealth) Name() string { return "source_health" }
func (f fakeHealth) Collect(context.Context, models.FailureEvent) collectors.SourceResult[[]models.SourceHealth] {
	return f.result
}

type fakeStore struct {
	similar    []models.SimilarIncident
	findErr    error
	persistErr error

	persisted []*models.RCAReport
}

func (f *fakeStore) FindSimilar(context.Context, string, string, string, models.ErrorCategory, int) ([]models.SimilarIncident, error) {
	return f.similar, f.findErr
}

func (f *fakeStore) Persist(_ context.Context, report *models.RCAReport) (string, error) {
	if f.persistErr != nil {
		return "", f.persistErr
	}
	f.persisted = append(f.persisted, report)
	return report.ReportID, nil
}

func goodTaskRun() collectors.SourceResult[collectors.TaskRunData] {
	return collectors.Ok(collectors.TaskRunData{
		Metadata: models.TaskMetadata{PipelineID: "daily_sales_etl", TaskID: "transform_orders", RunID: "run-1"},
		Logs:     models.TaskLogs{Stdout: "ERROR java.lang.OutOfMemoryError: Java heap space"},
	})
}

func newTestWorkflow(t *testing.T, taskRuns TaskRunCollector, vcs VCSCollector, health HealthCollector, store IncidentStore) *Workflow {
	t.Helper()
	return NewWorkflow(nil, taskRuns, vcs, health, nil,
		NewAggregator(nil), NewAnalyzer(mustMatcher(t), nil, nil), store)
}

func TestRunProducesReportDespiteAuxiliaryFailure(t *testing.T) {
	store := &fakeStore{}
	workflow := newTestWorkflow(t,
		fakeTaskRuns{result: goodTaskRun()},
		fakeVCS{result: collectors.Failure[*models.VCSContext](errors.New("git log timed out after 60s"))},
		fakeHealth{result: collectors.Ok([]models.SourceHealth{{SourceName: "warehouse", Reachable: true}})},
		store,
	)

	report, errs := workflow.Run(context.Background(), testEvent())
	if report == nil {
		t.Fatalf("expected a report, got errors %v", errs)
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one recorded error, got %v", errs)
	}
	if errs[0].Kind != KindCollectorFailure || errs[0].Stage != StageCollect {
		t.Fatalf("unexpected error classification %+v", errs[0])
	}
	if !strings.Contains(errs[0].Error(), "timed out") {
		t.Fatalf("error should mention the timeout, got %q", errs[0].Error())
	}
	if report.Category != models.CategoryResourceExhaustion {
		t.Fatalf("unexpected category %s", report.Category)
	}
	if len(store.persisted) != 1 {
		t.Fatalf("report should be persisted once, got %d", len(store.persisted))
	}

	// VCS failed, so it must not appear among contributing collectors.
	for _, name := range report.CollectorsUsed {
		if name == "git" {
			t.Fatalf("failed collector listed as used: %v", report.CollectorsUsed)
		}
	}
}

func TestRunAbortsWithoutRequiredData(t *testing.T) {
	workflow := newTestWorkflow(t,
		fakeTaskRuns{result: collectors.Failure[collectors.TaskRunData](errors.New("scheduler returned 503"))},
		fakeVCS{result: collectors.Failure[*models.VCSContext](errors.New("no repo"))},
		fakeHealth{result: collectors.Failure[[]models.SourceHealth](errors.New("probe refused"))},
		&fakeStore{},
	)

	report, errs := workflow.Run(context.Background(), testEvent())
	if report != nil {
		t.Fatalf("no report expected when required data is missing")
	}
	// One error per attempted collector plus the aggregation failure.
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}
	last := errs[len(errs)-1]
	if last.Kind != KindMissingRequiredData || last.Stage != StageAggregate {
		t.Fatalf("final error should be the aggregation failure, got %+v", last)
	}
	if !errors.Is(last.Err, ErrMissingRequiredData) {
		t.Fatalf("aggregation error should wrap ErrMissingRequiredData")
	}
}

func TestRunErrorOrderIsStable(t *testing.T) {
	workflow := newTestWorkflow(t,
		fakeTaskRuns{result: collectors.Failure[collectors.TaskRunData](errors.New("a"))},
		fakeVCS{result: collectors.Failure[*models.VCSContext](errors.New("b"))},
		fakeHealth{result: collectors.Failure[[]models.SourceHealth](errors.New("c"))},
		nil,
	)

	_, errs := workflow.Run(context.Background(), testEvent())
	wantPrefixes := []string{"collect: collector_failure: scheduler", "collect: collector_failure: git", "collect: collector_failure: source_health"}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(errs[i].Error(), want) {
			t.Fatalf("error %d = %q, want prefix %q", i, errs[i].Error(), want)
		}
	}
}

func TestRunRetrievalFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{findErr: errors.New("vector store unreachable")}
	workflow := newTestWorkflow(t, fakeTaskRuns{result: goodTaskRun()}, nil, nil, store)

	report, errs := workflow.Run(context.Background(), testEvent())
	if report == nil {
		t.Fatalf("retrieval failure must not block the diagnosis")
	}
	if len(errs) != 1 || errs[0].Kind != KindRetrievalFailure || errs[0].Stage != StageRetrieve {
		t.Fatalf("expected one retrieval error, got %v", errs)
	}
	if report.IsRecurring {
		t.Fatalf("no similar incidents were retrieved")
	}
}

func TestRunPersistFailureKeepsReport(t *testing.T) {
	store := &fakeStore{persistErr: errors.New("write rejected")}
	workflow := newTestWorkflow(t, fakeTaskRuns{result: goodTaskRun()}, nil, nil, store)

	report, errs := workflow.Run(context.Background(), testEvent())
	if report == nil {
		t.Fatalf("persist failure must not invalidate the report")
	}
	if len(errs) != 1 || errs[0].Stage != StagePersist {
		t.Fatalf("expected one persist error, got %v", errs)
	}
}

func TestRunSimilarIncidentsFeedReport(t *testing.T) {
	store := &fakeStore{similar: []models.SimilarIncident{
		{IncidentID: "inc-1", PipelineID: "daily_sales_etl", TaskID: "transform_orders", SimilarityScore: 0.93},
	}}
	workflow := newTestWorkflow(t, fakeTaskRuns{result: goodTaskRun()}, nil, nil, store)

	report, errs := workflow.Run(context.Background(), testEvent())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if !report.IsRecurring || report.RecurrenceCount != 1 {
		t.Fatalf("recurrence not derived from retrieved incidents: %+v", report)
	}
}

func TestRunCancelledReturnsNoReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	workflow := newTestWorkflow(t, fakeTaskRuns{result: goodTaskRun()}, nil, nil, &fakeStore{})
	report, errs := workflow.Run(ctx, testEvent())
	if report != nil {
		t.Fatalf("cancelled run must not return a report")
	}
	if len(errs) == 0 {
		t.Fatalf("cancellation should be recorded")
	}
}

func TestErrorStrings(t *testing.T) {
	if ErrorStrings(nil) != nil {
		t.Fatalf("nil in, nil out")
	}
	strs := ErrorStrings([]StageError{{Stage: StageCollect, Kind: KindCollectorFailure, Err: errors.New("boom")}})
	if len(strs) != 1 || strs[0] != "collect: collector_failure: boom" {
		t.Fatalf("unexpected rendering %v", strs)
	}
}
