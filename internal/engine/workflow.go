// Package engine implements the diagnosis workflow: concurrent evidence
// collection, context aggregation, analysis with a deterministic fallback,
// and best-effort similarity retrieval and persistence.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pipewatch/rca-agent/internal/collectors"
	"github.com/pipewatch/rca-agent/internal/models"
)

// runState is one phase of a workflow run. Runs only move forward.
type runState string

const (
	stateCollecting  runState = "collecting"
	stateAggregating runState = "aggregating"
	stateAnalyzing   runState = "analyzing"
	statePersisting  runState = "persisting"
	stateDone        runState = "done"
)

// TaskRunCollector fetches scheduler-side evidence: metadata, logs, history.
type TaskRunCollector interface {
	Name() string
	Collect(ctx context.Context, event models.FailureEvent) collectors.SourceResult[collectors.TaskRunData]
}

// VCSCollector fetches recent version-control activity around the pipeline.
type VCSCollector interface {
	Name() string
	Collect(ctx context.Context, event models.FailureEvent) collectors.SourceResult[*models.VCSContext]
}

// HealthCollector probes the reachability of upstream data sources.
type HealthCollector interface {
	Name() string
	Collect(ctx context.Context, event models.FailureEvent) collectors.SourceResult[[]models.SourceHealth]
}

// MetricsCollector snapshots infrastructure metrics at failure time.
type MetricsCollector interface {
	Name() string
	Collect(ctx context.Context, event models.FailureEvent) collectors.SourceResult[*models.MetricsSnapshot]
}

// IncidentStore is the similarity-retrieval contract the workflow depends on.
// FindSimilar and Persist are best-effort from the workflow's point of view;
// their failures are recorded, never fatal.
type IncidentStore interface {
	FindSimilar(ctx context.Context, pipelineID, taskID, errorText string, category models.ErrorCategory, maxResults int) ([]models.SimilarIncident, error)
	Persist(ctx context.Context, report *models.RCAReport) (string, error)
}

const (
	defaultCollectorTimeout = 60 * time.Second
	defaultMaxSimilar       = 3
)

// Workflow drives one diagnosis run through a fixed state machine. Collectors
// run concurrently, each against its own deadline; the workflow blocks only at
// the aggregation barrier. Safe for concurrent runs: all per-run state lives
// on the Run stack.
type Workflow struct {
	logger *slog.Logger

	taskRuns TaskRunCollector
	vcs      VCSCollector
	health   HealthCollector
	metrics  MetricsCollector

	aggregator *Aggregator
	analyzer   *Analyzer
	store      IncidentStore

	collectorTimeout time.Duration
	maxSimilar       int
}

// WorkflowOption tunes workflow construction.
type WorkflowOption func(*Workflow)

// WithCollectorTimeout overrides the per-collector deadline.
func WithCollectorTimeout(timeout time.Duration) WorkflowOption {
	return func(w *Workflow) {
		if timeout > 0 {
			w.collectorTimeout = timeout
		}
	}
}

// WithMaxSimilar overrides how many prior incidents are retrieved per run.
func WithMaxSimilar(max int) WorkflowOption {
	return func(w *Workflow) {
		if max > 0 {
			w.maxSimilar = max
		}
	}
}

// NewWorkflow assembles the orchestrator. The task-run collector, aggregator,
// and analyzer are mandatory; vcs, health, metrics collectors and the incident
// store may be nil and are then skipped.
func NewWorkflow(
	logger *slog.Logger,
	taskRuns TaskRunCollector,
	vcs VCSCollector,
	health HealthCollector,
	metrics MetricsCollector,
	aggregator *Aggregator,
	analyzer *Analyzer,
	store IncidentStore,
	opts ...WorkflowOption,
) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{
		logger:           logger,
		taskRuns:         taskRuns,
		vcs:              vcs,
		health:           health,
		metrics:          metrics,
		aggregator:       aggregator,
		analyzer:         analyzer,
		store:            store,
		collectorTimeout: defaultCollectorTimeout,
		maxSimilar:       defaultMaxSimilar,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// collected holds one slot per collector. Each goroutine writes only its own
// slot; the barrier makes the writes visible to the single aggregation reader.
type collected struct {
	taskRun collectors.SourceResult[collectors.TaskRunData]
	vcs     collectors.SourceResult[*models.VCSContext]
	health  collectors.SourceResult[[]models.SourceHealth]
	metrics collectors.SourceResult[*models.MetricsSnapshot]
}

// Run executes one diagnosis for the given failure event. It returns either a
// valid report plus any non-fatal errors recorded along the way, or no report
// with the errors explaining why. A cancelled run never returns a report.
func (w *Workflow) Run(ctx context.Context, event models.FailureEvent) (*models.RCAReport, []StageError) {
	var errs []StageError
	state := stateCollecting
	w.logState(event, state)

	results := w.collect(ctx, event)
	if ctx.Err() != nil {
		errs = append(errs, StageError{Stage: StageCollect, Kind: KindCollectorFailure, Err: ctx.Err()})
		return nil, errs
	}

	// Recorded in collector declaration order so error lists are stable
	// regardless of goroutine completion order.
	if results.taskRun.Failed() {
		errs = append(errs, collectorError(w.taskRuns.Name(), results.taskRun.Err))
	}
	if w.vcs != nil && results.vcs.Failed() {
		errs = append(errs, collectorError(w.vcs.Name(), results.vcs.Err))
	}
	if w.health != nil && results.health.Failed() {
		errs = append(errs, collectorError(w.health.Name(), results.health.Err))
	}
	if w.metrics != nil && results.metrics.Failed() {
		errs = append(errs, collectorError(w.metrics.Name(), results.metrics.Err))
	}

	state = stateAggregating
	w.logState(event, state)

	var metadata *models.TaskMetadata
	var logs *models.TaskLogs
	var history *models.RunHistory
	if results.taskRun.Present {
		metadata = &results.taskRun.Value.Metadata
		logs = &results.taskRun.Value.Logs
		history = results.taskRun.Value.History
	}
	var vcsCtx *models.VCSContext
	if results.vcs.Present {
		vcsCtx = results.vcs.Value
	}
	var sources []models.SourceHealth
	if results.health.Present {
		sources = results.health.Value
	}
	var metricsSnap *models.MetricsSnapshot
	if results.metrics.Present {
		metricsSnap = results.metrics.Value
	}

	rcaCtx, err := w.aggregator.Build(event, metadata, logs, history, vcsCtx, sources, metricsSnap)
	if err != nil {
		errs = append(errs, StageError{Stage: StageAggregate, Kind: KindMissingRequiredData, Err: err})
		w.logger.Error("run aborted, required context unavailable",
			slog.String("pipeline", event.PipelineID),
			slog.String("task", event.TaskID),
			slog.Int("errors", len(errs)),
		)
		return nil, errs
	}

	state = stateAnalyzing
	w.logState(event, state)
	if ctx.Err() != nil {
		errs = append(errs, StageError{Stage: StageAnalyze, Kind: KindCapabilityFailure, Err: ctx.Err()})
		return nil, errs
	}

	similar, retrieveErr := w.findSimilar(ctx, event, rcaCtx)
	if retrieveErr != nil {
		errs = append(errs, StageError{Stage: StageRetrieve, Kind: KindRetrievalFailure, Err: retrieveErr})
	}

	report, capErr := w.analyzer.Analyze(ctx, rcaCtx, similar)
	if capErr != nil {
		errs = append(errs, StageError{Stage: StageAnalyze, Kind: KindCapabilityFailure, Err: capErr})
	}
	if ctx.Err() != nil {
		// Cancelled runs yield no report, even though the fallback produced one.
		return nil, errs
	}

	state = statePersisting
	w.logState(event, state)

	if w.store != nil && ctx.Err() == nil {
		if _, err := w.store.Persist(ctx, report); err != nil {
			errs = append(errs, StageError{Stage: StagePersist, Kind: KindRetrievalFailure, Err: err})
			w.logger.Warn("report not persisted", slog.String("report_id", report.ReportID), slog.Any("error", err))
		}
	}

	state = stateDone
	w.logState(event, state)

	return report, errs
}

// collect fans the collectors out, one goroutine per source with its own
// deadline, and blocks until every slot reached a terminal state.
func (w *Workflow) collect(ctx context.Context, event models.FailureEvent) collected {
	var results collected
	var wg sync.WaitGroup

	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() {
		cctx, cancel := context.WithTimeout(ctx, w.collectorTimeout)
		defer cancel()
		results.taskRun = w.taskRuns.Collect(cctx, event)
	})
	if w.vcs != nil {
		run(func() {
			cctx, cancel := context.WithTimeout(ctx, w.collectorTimeout)
			defer cancel()
			results.vcs = w.vcs.Collect(cctx, event)
		})
	}
	if w.health != nil {
		run(func() {
			cctx, cancel := context.WithTimeout(ctx, w.collectorTimeout)
			defer cancel()
			results.health = w.health.Collect(cctx, event)
		})
	}
	if w.metrics != nil {
		run(func() {
			cctx, cancel := context.WithTimeout(ctx, w.collectorTimeout)
			defer cancel()
			results.metrics = w.metrics.Collect(cctx, event)
		})
	}

	wg.Wait()
	return results
}

// findSimilar queries the incident store for prior incidents resembling this
// failure. The extracted error snippet is the preferred query text; absence of
// a store or a store failure both degrade to an empty result.
func (w *Workflow) findSimilar(ctx context.Context, event models.FailureEvent, rcaCtx *models.RCAContext) ([]models.SimilarIncident, error) {
	if w.store == nil {
		return nil, nil
	}

	errorText := rcaCtx.Logs.ErrorSnippet
	if errorText == "" {
		errorText = event.ErrorMessage
	}

	similar, err := w.store.FindSimilar(ctx, event.PipelineID, event.TaskID, errorText, "", w.maxSimilar)
	if err != nil {
		return nil, err
	}
	return similar, nil
}

func (w *Workflow) logState(event models.FailureEvent, state runState) {
	w.logger.Debug("workflow state",
		slog.String("pipeline", event.PipelineID),
		slog.String("task", event.TaskID),
		slog.String("run", event.RunID),
		slog.String("state", string(state)),
	)
}

func collectorError(name, message string) StageError {
	return StageError{
		Stage: StageCollect,
		Kind:  KindCollectorFailure,
		Err:   fmt.Errorf("%s: %s", name, message),
	}
}
