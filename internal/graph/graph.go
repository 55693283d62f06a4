// Package graph provides the stage dependency graph for pipeline scheduling.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/conveyorci/conveyor/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found among stages.
var ErrCycleDetected = errors.New("circular stage dependency detected")

// StageGraph represents a directed acyclic graph of stage dependencies.
// Stages are nodes, and edges represent "needs" relationships.
type StageGraph struct {
	mu sync.RWMutex
	// nodes maps stage name to the stage itself.
	nodes map[string]*models.Stage
	// edges maps stage name to the names of stages it needs.
	edges map[string][]string
	// succeeded tracks stages marked successful.
	succeeded map[string]bool
	// failed tracks stages marked failed.
	failed map[string]bool
	// skipped tracks stages resolved as condition-skipped.
	skipped map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty stage graph.
func New() *StageGraph {
	return &StageGraph{
		nodes:     make(map[string]*models.Stage),
		edges:     make(map[string][]string),
		succeeded: make(map[string]bool),
		failed:    make(map[string]bool),
		skipped:   make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *StageGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the graph from a slice of stages.
// Returns an error if a cycle is detected or a stage needs an unknown stage.
func (g *StageGraph) Build(stages []*models.Stage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, st := range stages {
		g.nodes[st.Name] = st
		g.edges[st.Name] = nil
	}

	for _, st := range stages {
		for _, dep := range st.Needs {
			if _, exists := g.nodes[dep]; !exists {
				return fmt.Errorf("stage %s needs unknown stage %s", st.Name, dep)
			}
			g.edges[st.Name] = append(g.edges[st.Name], dep)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.debugLog("[graph.Build] built graph with %d stages", len(g.nodes))
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *StageGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *StageGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(name string) bool
	visit = func(name string) bool {
		colors[name] = 1

		for _, dep := range g.edges[name] {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}

		colors[name] = 2
		return false
	}

	for name := range g.nodes {
		if colors[name] == 0 {
			if visit(name) {
				return true
			}
		}
	}

	return false
}

// TopologicalSort returns stage names in an order where every stage comes
// after all stages it needs. Returns an error if the graph contains a cycle.
func (g *StageGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	var result []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true

		for _, dep := range g.edges[name] {
			visit(dep)
		}

		result = append(result, name)
	}

	for name := range g.nodes {
		visit(name)
	}

	return result, nil
}

// Ready returns the names of stages whose dependencies have all succeeded
// and which have not yet reached a terminal state themselves.
// These stages can start in parallel.
func (g *StageGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string

	for name, st := range g.nodes {
		if g.succeeded[name] || g.failed[name] || g.skipped[name] {
			continue
		}
		if st.Status.Terminal() || st.Status == models.StageRunning {
			continue
		}

		allDepsSucceeded := true
		for _, dep := range g.edges[name] {
			if !g.succeeded[dep] {
				allDepsSucceeded = false
				break
			}
		}

		if allDepsSucceeded {
			ready = append(ready, name)
		}
	}

	g.debugLog("[graph.Ready] %d stages ready: %v", len(ready), ready)
	return ready
}

// MarkSucceeded marks a stage as successful, unblocking its dependents.
func (g *StageGraph) MarkSucceeded(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.succeeded[name] = true
	g.debugLog("[graph.MarkSucceeded] %s", name)
}

// MarkFailed marks a stage as failed. Dependents stay unready forever;
// callers are expected to block them explicitly.
func (g *StageGraph) MarkFailed(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed[name] = true
	g.debugLog("[graph.MarkFailed] %s", name)
}

// MarkSkipped marks a stage as condition-skipped. A skipped stage never
// satisfies a dependent's needs; callers propagate skips explicitly.
func (g *StageGraph) MarkSkipped(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skipped[name] = true
	g.debugLog("[graph.MarkSkipped] %s", name)
}

// Stage returns the stage for a given name, or nil if not found.
func (g *StageGraph) Stage(name string) *models.Stage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[name]
}

// Size returns the number of stages in the graph.
func (g *StageGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the names of stages the given stage needs.
func (g *StageGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[name]
}

// Dependents returns the names of stages that need the given stage.
func (g *StageGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for candidate, deps := range g.edges {
		for _, dep := range deps {
			if dep == name {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}

// Resolved reports whether every stage has reached a terminal bookkeeping
// state (succeeded, failed or skipped) or a terminal stage status such as
// blocked. When Resolved returns true the run can be finalized.
func (g *StageGraph) Resolved() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for name, st := range g.nodes {
		if g.succeeded[name] || g.failed[name] || g.skipped[name] {
			continue
		}
		if st.Status.Terminal() {
			continue
		}
		return false
	}
	return true
}
