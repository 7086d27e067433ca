package model

import "time"

// TriggerKind identifies what started a run.
type TriggerKind string

const (
	TriggerSchedule TriggerKind = "schedule"
	TriggerManual   TriggerKind = "manual"
)

// RunStatus represents the overall state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StepName identifies a pipeline step. The three steps always execute in
// declaration order; a failure aborts the run before the next step starts.
type StepName string

const (
	StepProvision StepName = "provision"
	StepTokenInit StepName = "token-init"
	StepSync      StepName = "sync"
)

// StepStatus represents the outcome of a single step within a run.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	RunID     string
	Name      StepName
	Status    StepStatus
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

// SyncStats counts the per-record outcomes of one sync step.
type SyncStats struct {
	RecordsSeen    int
	RecordsCreated int
	RecordsUpdated int
	RecordsFailed  int
}

// SyncRun is one complete execution of the provision → token-init → sync
// pipeline, persisted to run history.
type SyncRun struct {
	ID         string
	Trigger    TriggerKind
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
	Stats      SyncStats
	Steps      []StepResult
}

// Duration returns the wall-clock duration of the run. For a still-running
// run it returns the elapsed time since start.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
