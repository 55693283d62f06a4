package models

import "time"

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	// RunPending indicates the run has been created but not started.
	RunPending RunStatus = "pending"
	// RunRunning indicates stages are executing.
	RunRunning RunStatus = "running"
	// RunSucceeded indicates every required stage succeeded.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed indicates a gating stage failed.
	RunFailed RunStatus = "failed"
	// RunCancelled indicates the run was superseded by a newer run
	// sharing its concurrency group.
	RunCancelled RunStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunSucceeded,
		RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Run is one execution of a pipeline, created by a trigger event.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// Pipeline is the name of the pipeline definition being executed.
	Pipeline string `json:"pipeline"`
	// Event is the trigger that created the run.
	Event Event `json:"event"`
	// Group is the concurrency group key; only one run per group is active.
	Group string `json:"group"`
	// Status is the current lifecycle state.
	Status RunStatus `json:"status"`
	// Version is the version string stamped from the release tag, if any.
	Version string `json:"version,omitempty"`
	// CreatedAt is when the run was created.
	CreatedAt time.Time `json:"created_at"`
	// FinishedAt is when the run reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
