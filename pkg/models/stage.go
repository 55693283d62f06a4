package models

import "time"

// StageKind selects the executor used to run a stage.
type StageKind string

const (
	// StageCommand runs a list of commands in the checkout (style checks).
	StageCommand StageKind = "command"
	// StageTestMatrix fans out the (python × database) test matrix.
	StageTestMatrix StageKind = "test-matrix"
	// StagePackageBuild builds and validates the wheel + sdist.
	StagePackageBuild StageKind = "package-build"
	// StagePackagePublish uploads distributions via trusted publishing.
	StagePackagePublish StageKind = "package-publish"
	// StageImageBuild assembles the container image without pushing.
	StageImageBuild StageKind = "image-build"
	// StageImagePush builds and pushes the multi-platform image index.
	StageImagePush StageKind = "image-push"
)

// Valid returns true if the kind is a known value.
func (k StageKind) Valid() bool {
	switch k {
	case StageCommand, StageTestMatrix, StagePackageBuild,
		StagePackagePublish, StageImageBuild, StageImagePush:
		return true
	default:
		return false
	}
}

// StageCondition gates stage execution on a property of the trigger event.
type StageCondition string

const (
	// ConditionAlways runs the stage whenever its dependencies succeed.
	ConditionAlways StageCondition = ""
	// ConditionReleasePublished runs the stage only when the triggering
	// event is a release with action "published"; otherwise the stage is
	// skipped, not failed.
	ConditionReleasePublished StageCondition = "release-published"
)

// StageStatus represents the lifecycle state of a stage within a run.
type StageStatus string

const (
	// StagePending indicates the stage has not started.
	StagePending StageStatus = "pending"
	// StageRunning indicates the stage is executing.
	StageRunning StageStatus = "running"
	// StageSucceeded indicates the stage completed successfully.
	StageSucceeded StageStatus = "succeeded"
	// StageFailed indicates the stage failed.
	StageFailed StageStatus = "failed"
	// StageBlocked indicates a dependency failed so the stage never ran.
	StageBlocked StageStatus = "blocked"
	// StageSkipped indicates the stage's run condition was unmet.
	StageSkipped StageStatus = "skipped"
	// StageCancelled indicates the run was superseded while the stage was
	// pending or in flight.
	StageCancelled StageStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageRunning, StageSucceeded, StageFailed,
		StageBlocked, StageSkipped, StageCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state for the stage.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageBlocked, StageSkipped, StageCancelled:
		return true
	default:
		return false
	}
}

// Stage is a named unit of pipeline work with declared dependencies.
// A stage never starts before all stages in Needs have succeeded.
type Stage struct {
	// Name is the unique stage name within the pipeline.
	Name string `json:"name"`
	// Kind selects the stage executor.
	Kind StageKind `json:"kind"`
	// Needs lists the names of stages this stage depends on.
	Needs []string `json:"needs,omitempty"`
	// Commands are the shell commands run by command-kind stages.
	Commands []string `json:"commands,omitempty"`
	// Condition gates execution on the trigger event.
	Condition StageCondition `json:"condition,omitempty"`
	// Status is the current lifecycle state.
	Status StageStatus `json:"status"`
	// BlockedReason records why a blocked stage cannot proceed.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// StartedAt is when the stage began executing.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt is when the stage reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
