package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/internal/pipeline"
	"github.com/conveyorci/conveyor/internal/stage"
	"github.com/conveyorci/conveyor/internal/state"
	"github.com/conveyorci/conveyor/internal/trigger"
	"github.com/conveyorci/conveyor/pkg/models"
)

// StageContextFactory builds the per-run stage context (checkout, runner,
// artifact store, service clients). The returned cleanup runs after the run
// finishes.
type StageContextFactory func(ctx context.Context, run *models.Run) (*stage.Context, func(), error)

// PoolConfig contains configuration options for the RunPool.
type PoolConfig struct {
	Pipelines []*pipeline.Definition
	Store     *state.Store

	// DataDir is where per-run debug logs land. Empty disables them.
	DataDir string

	// NewStageContext is required; it wires each run's execution context.
	NewStageContext StageContextFactory

	MaxParallelStages int
	StageTimeout      time.Duration
	PollInterval      time.Duration
}

// RunPool turns incoming events into runs and manages their concurrency
// groups: when a pipeline declares cancel_in_flight, a newer run supersedes
// and cancels the in-flight run of the same group.
type RunPool struct {
	cfg PoolConfig

	// active tracks the in-flight run per concurrency group.
	active map[string]*activeRun
	mu     sync.Mutex

	// events aggregates events from all runs.
	events chan RunEvent

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
	// forwarders tracks the per-run event forwarding goroutines; Stop must
	// not close the pool channel while any of them can still send.
	forwarders sync.WaitGroup
}

type activeRun struct {
	runID  string
	cancel context.CancelFunc
}

// NewRunPool creates a RunPool.
func NewRunPool(cfg PoolConfig) *RunPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunPool{
		cfg:    cfg,
		active: make(map[string]*activeRun),
		events: make(chan RunEvent, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit matches an event against every pipeline and starts a run for each
// match. It returns the IDs of the runs it started; an event matching
// nothing starts nothing and is not an error.
func (p *RunPool) Submit(ev models.Event) ([]string, error) {
	if p.cfg.NewStageContext == nil {
		return nil, fmt.Errorf("NewStageContext is required")
	}
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}

	var started []string
	for _, def := range p.cfg.Pipelines {
		if !def.Triggers.Match(ev) {
			continue
		}
		runID, err := p.startRun(def, ev)
		if err != nil {
			return started, err
		}
		started = append(started, runID)
	}
	return started, nil
}

func (p *RunPool) startRun(def *pipeline.Definition, ev models.Event) (string, error) {
	runID := uuid.New().String()[:8]
	group := trigger.GroupKey(def.Name, ev.Branch, runID)

	run := &models.Run{
		ID:        runID,
		Pipeline:  def.Name,
		Event:     ev,
		Group:     group,
		Status:    models.RunPending,
		CreatedAt: time.Now().UTC(),
	}
	if p.cfg.Store != nil {
		if err := p.cfg.Store.CreateRun(run); err != nil {
			return "", err
		}
	}

	runCtx, cancelRun := context.WithCancel(p.ctx)

	sc, cleanup, err := p.cfg.NewStageContext(runCtx, run)
	if err != nil {
		cancelRun()
		return "", fmt.Errorf("prepare run %s: %w", runID, err)
	}

	orch := New(run, def, sc,
		WithStore(p.cfg.Store),
		WithLogger(NewDebugLoggerForRun(p.cfg.DataDir, runID)),
		WithMaxParallelStages(p.cfg.MaxParallelStages),
		WithStageTimeout(p.cfg.StageTimeout),
		WithPollInterval(p.cfg.PollInterval),
	)

	p.mu.Lock()
	// The newest run wins its concurrency group: cancel the in-flight run
	// of the same group before taking its slot.
	if def.Concurrency.CancelInFlight {
		if prev, ok := p.active[group]; ok {
			debugLog("[pool] run %s supersedes %s in group %s", runID, prev.runID, group)
			prev.cancel()
		}
	}
	p.active[group] = &activeRun{runID: runID, cancel: cancelRun}
	p.mu.Unlock()

	p.forwarders.Add(1)
	go p.forwardEvents(orch)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancelRun()

		if err := orch.Run(runCtx); err != nil && runCtx.Err() == nil {
			debugLog("[pool] run %s failed: %v", runID, err)
		}
		if cleanup != nil {
			cleanup()
		}

		p.mu.Lock()
		if cur, ok := p.active[group]; ok && cur.runID == runID {
			delete(p.active, group)
		}
		p.mu.Unlock()
	}()

	return runID, nil
}

// forwardEvents forwards events from a run to the pool's event channel.
func (p *RunPool) forwardEvents(orch *Orchestrator) {
	defer p.forwarders.Done()
	for event := range orch.Events() {
		select {
		case p.events <- event:
		case <-p.ctx.Done():
			return
		}
	}
}

// Events returns the channel for receiving aggregated events from all runs.
func (p *RunPool) Events() <-chan RunEvent {
	return p.events
}

// Count returns the number of in-flight runs.
func (p *RunPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Stop cancels all runs and waits for them to finish. The event channel is
// closed only after every forwarder has drained its run.
func (p *RunPool) Stop() error {
	p.cancel()
	p.wg.Wait()
	p.forwarders.Wait()
	close(p.events)
	return nil
}
