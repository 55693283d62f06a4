// Package orchestrator executes runs: it walks the stage graph, dispatches
// ready stages to executors, and reports progress as events.
package orchestrator

import (
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
)

// EventType represents the type of run event.
type EventType string

const (
	// EventStageQueued indicates a stage is ready and queued for execution.
	EventStageQueued EventType = "stage_queued"
	// EventStageStarted indicates a stage has started execution.
	EventStageStarted EventType = "stage_started"
	// EventStageSucceeded indicates a stage completed successfully.
	EventStageSucceeded EventType = "stage_succeeded"
	// EventStageFailed indicates a stage failed.
	EventStageFailed EventType = "stage_failed"
	// EventStageBlocked indicates a stage cannot run because a dependency failed.
	EventStageBlocked EventType = "stage_blocked"
	// EventStageSkipped indicates a stage was skipped because its condition
	// was not met, or because a dependency was skipped.
	EventStageSkipped EventType = "stage_skipped"
	// EventCellUpdate reports a matrix cell transition, including retries.
	EventCellUpdate EventType = "cell_update"
	// EventRunDone indicates the run finished with all stages resolved.
	EventRunDone EventType = "run_done"
	// EventRunFailed indicates the run finished with failures.
	EventRunFailed EventType = "run_failed"
	// EventRunCancelled indicates the run was cancelled, usually because a
	// newer run superseded it.
	EventRunCancelled EventType = "run_cancelled"
)

// RunEvent is emitted by the orchestrator as a run progresses. Events feed
// the watch TUI and the serve log.
type RunEvent struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the run this event belongs to.
	RunID string
	// Stage is the name of the related stage, if applicable.
	Stage string
	// Cell is the related matrix cell, if applicable.
	Cell *models.MatrixCell
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
