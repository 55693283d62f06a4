// Package trigger decides whether an incoming event creates a pipeline run,
// and derives the concurrency group key that governs cancellation.
package trigger

import (
	"strings"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Rule declares the constraints one event type must satisfy to trigger a run.
type Rule struct {
	// Branches restricts push/pull_request events to the named branches.
	Branches []string `yaml:"branches,omitempty"`
	// Paths restricts push/pull_request events to changes under the given
	// path prefixes. An event whose changed files all fall outside every
	// prefix creates no run.
	Paths []string `yaml:"paths,omitempty"`
	// Actions restricts release events to the named actions.
	Actions []string `yaml:"actions,omitempty"`
}

// Filter holds the trigger rules of one pipeline. A nil rule for an event
// type means that event type never triggers the pipeline.
type Filter struct {
	Push        *Rule `yaml:"push,omitempty"`
	PullRequest *Rule `yaml:"pull_request,omitempty"`
	Release     *Rule `yaml:"release,omitempty"`
}

// Match reports whether the event satisfies the filter. Events that do not
// match create no run at all.
func (f *Filter) Match(ev models.Event) bool {
	switch ev.Type {
	case models.EventPush:
		return matchBranchRule(f.Push, ev)
	case models.EventPullRequest:
		return matchBranchRule(f.PullRequest, ev)
	case models.EventRelease:
		return matchReleaseRule(f.Release, ev)
	default:
		return false
	}
}

func matchBranchRule(r *Rule, ev models.Event) bool {
	if r == nil {
		return false
	}
	if len(r.Branches) > 0 && !contains(r.Branches, ev.Branch) {
		return false
	}
	if len(r.Paths) > 0 && !anyFileUnder(ev.Files, r.Paths) {
		return false
	}
	return true
}

func matchReleaseRule(r *Rule, ev models.Event) bool {
	if r == nil {
		return false
	}
	if len(r.Actions) > 0 && !contains(r.Actions, ev.Action) {
		return false
	}
	return true
}

// anyFileUnder reports whether at least one changed file falls under one of
// the path prefixes.
func anyFileUnder(files, prefixes []string) bool {
	for _, file := range files {
		for _, prefix := range prefixes {
			if fileUnder(file, prefix) {
				return true
			}
		}
	}
	return false
}

// fileUnder reports whether file is the prefix itself or lives below it.
// Prefixes may be written with or without a trailing slash.
func fileUnder(file, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return file == prefix || strings.HasPrefix(file, prefix+"/")
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
