package orchestrator

import (
	"sort"
	"sync"

	"github.com/conveyorci/conveyor/internal/graph"
	"github.com/conveyorci/conveyor/pkg/models"
)

// Scheduler hands ready stages to available execution slots. A stage is
// ready once every stage it needs has succeeded; failed dependencies block
// dependents permanently and skipped dependencies propagate the skip.
type Scheduler struct {
	// graph is the dependency graph of stages.
	graph *graph.StageGraph
	// running tracks stages currently executing.
	running map[string]bool
	// maxStages is the maximum number of concurrently running stages.
	// Non-positive means unbounded.
	maxStages int
	// mu protects all mutable fields.
	mu sync.RWMutex
}

// NewScheduler creates a Scheduler over the given graph with a concurrency
// limit. A non-positive limit means unbounded.
func NewScheduler(g *graph.StageGraph, maxStages int) *Scheduler {
	return &Scheduler{
		graph:     g,
		running:   make(map[string]bool),
		maxStages: maxStages,
	}
}

// Schedule returns the stages that can start now: dependency-ready, not
// already running, capped by the available slots. Names are sorted so
// scheduling order is deterministic.
func (s *Scheduler) Schedule() []*models.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// The unbounded capacity is the graph size at call time; the graph is
	// only populated when the run starts, after the scheduler is built.
	limit := s.maxStages
	if limit <= 0 {
		limit = s.graph.Size()
	}
	slots := limit - len(s.running)
	if slots <= 0 {
		debugLog("[scheduler] no available slots: maxStages=%d, running=%d", limit, len(s.running))
		return nil
	}

	readyNames := s.graph.Ready()
	var names []string
	for _, name := range readyNames {
		if !s.running[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	if len(names) > slots {
		names = names[:slots]
	}

	stages := make([]*models.Stage, 0, len(names))
	for _, name := range names {
		if st := s.graph.Stage(name); st != nil {
			stages = append(stages, st)
		}
	}
	debugLog("[scheduler] scheduled %d stages: %v", len(stages), names)
	return stages
}

// OnStageStart records that a stage began executing.
func (s *Scheduler) OnStageStart(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// OnStageComplete records a stage result. On success the stage's dependents
// become eligible; on failure every transitive dependent still pending is
// marked blocked, and the blocked names are returned.
func (s *Scheduler) OnStageComplete(name string, success bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, name)

	if success {
		s.graph.MarkSucceeded(name)
		return nil
	}

	s.graph.MarkFailed(name)
	return s.blockDependentsLocked(name)
}

// Skip resolves a stage as skipped and propagates the skip to every
// transitive dependent still pending. It returns the dependents skipped
// alongside the named stage.
func (s *Scheduler) Skip(name, reason string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.graph.Stage(name); st != nil {
		st.Status = models.StageSkipped
		st.BlockedReason = reason
	}
	s.graph.MarkSkipped(name)
	return s.skipDependentsLocked(name)
}

// RunningCount returns the number of currently executing stages.
func (s *Scheduler) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}

func (s *Scheduler) blockDependentsLocked(failed string) []string {
	var blocked []string
	for _, dep := range s.graph.Dependents(failed) {
		st := s.graph.Stage(dep)
		if st == nil || st.Status != models.StagePending {
			continue
		}
		st.Status = models.StageBlocked
		st.BlockedReason = "dependency_failed:" + failed
		debugLog("[scheduler] blocked %s (depends on failed %s)", dep, failed)
		blocked = append(blocked, dep)
		blocked = append(blocked, s.blockDependentsLocked(dep)...)
	}
	return blocked
}

func (s *Scheduler) skipDependentsLocked(skipped string) []string {
	var out []string
	for _, dep := range s.graph.Dependents(skipped) {
		st := s.graph.Stage(dep)
		if st == nil || st.Status != models.StagePending {
			continue
		}
		st.Status = models.StageSkipped
		st.BlockedReason = "dependency_skipped:" + skipped
		s.graph.MarkSkipped(dep)
		debugLog("[scheduler] skipped %s (depends on skipped %s)", dep, skipped)
		out = append(out, dep)
		out = append(out, s.skipDependentsLocked(dep)...)
	}
	return out
}
