// Package models defines the core data types shared across conveyor.
package models

import "time"

// EventType represents the kind of event that can trigger a pipeline run.
type EventType string

const (
	// EventPush indicates a push to a branch.
	EventPush EventType = "push"
	// EventPullRequest indicates a pull request targeting a branch.
	EventPullRequest EventType = "pull_request"
	// EventRelease indicates a release lifecycle event.
	EventRelease EventType = "release"
)

// Valid returns true if the event type is a known value.
func (t EventType) Valid() bool {
	switch t {
	case EventPush, EventPullRequest, EventRelease:
		return true
	default:
		return false
	}
}

// ReleasePublished is the only release action that unlocks publish stages.
const ReleasePublished = "published"

// Event is an external trigger delivered to the orchestrator.
// Push and pull_request events carry a branch and the set of changed files;
// release events carry a tag and an action.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// Branch is the head branch for push/pull_request events.
	Branch string `json:"branch,omitempty"`
	// Ref is the commit SHA the run operates on.
	Ref string `json:"ref"`
	// Files lists the paths changed by the event, used for path filtering.
	Files []string `json:"files,omitempty"`
	// Tag is the release tag name (release events only), e.g. "v2.3.0".
	Tag string `json:"tag,omitempty"`
	// Action is the release action (release events only), e.g. "published".
	Action string `json:"action,omitempty"`
	// ReceivedAt is when the event was accepted for dispatch.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// IsPublishedRelease reports whether the event is a release publication,
// the precondition for all publish-type stages.
func (e Event) IsPublishedRelease() bool {
	return e.Type == EventRelease && e.Action == ReleasePublished
}
