package models

import "time"

// TaskState enumerates the scheduler task states that can trigger analysis.
type TaskState string

const (
	TaskStateFailed          TaskState = "failed"
	TaskStateUpstreamFailed  TaskState = "upstream_failed"
	TaskStateSkipped         TaskState = "skipped"
	TaskStateUpForRetry      TaskState = "up_for_retry"
	TaskStateUpForReschedule TaskState = "up_for_reschedule"
)

// ParseTaskState maps a scheduler-reported state string onto a known state,
// defaulting to failed for anything unrecognised.
func ParseTaskState(value string) TaskState {
	switch TaskState(value) {
	case TaskStateFailed, TaskStateUpstreamFailed, TaskStateSkipped, TaskStateUpForRetry, TaskStateUpForReschedule:
		return TaskState(value)
	default:
		return TaskStateFailed
	}
}

// FailureEvent identifies one failed unit of pipeline work. It is produced by
// the triggering caller and read-only for the rest of the run.
type FailureEvent struct {
	PipelineID    string
	TaskID        string
	RunID         string
	ExecutionDate time.Time
	State         TaskState
	ErrorMessage  string
	Attempt       int
	DetectedAt    time.Time
}
