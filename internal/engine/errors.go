package engine

import "fmt"

// Stage names one phase of a workflow run.
type Stage string

const (
	StageCollect   Stage = "collect"
	StageAggregate Stage = "aggregate"
	StageAnalyze   Stage = "analyze"
	StageRetrieve  Stage = "retrieve"
	StagePersist   Stage = "persist"
)

// ErrorKind classifies a recorded failure for machine inspection.
type ErrorKind string

const (
	// KindCollectorFailure marks one evidence source as unavailable. Non-fatal.
	KindCollectorFailure ErrorKind = "collector_failure"
	// KindMissingRequiredData marks an aggregation that cannot proceed. Fatal
	// to the run; no report is produced.
	KindMissingRequiredData ErrorKind = "missing_required_data"
	// KindCapabilityFailure marks a diagnosis backend error that triggered the
	// deterministic fallback. Non-fatal.
	KindCapabilityFailure ErrorKind = "capability_failure"
	// KindRetrievalFailure marks the similarity store as unreachable. Non-fatal.
	KindRetrievalFailure ErrorKind = "retrieval_failure"
)

// StageError records one non-fatal (or run-terminating) failure with enough
// structure to assert on in tests while still rendering as a plain string at
// the API boundary.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e StageError) Unwrap() error {
	return e.Err
}

// ErrorStrings renders stage errors for callers that only want text.
func ErrorStrings(errs []StageError) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
