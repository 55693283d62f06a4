package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conveyorci/conveyor/internal/graph"
	"github.com/conveyorci/conveyor/internal/pipeline"
	"github.com/conveyorci/conveyor/internal/stage"
	"github.com/conveyorci/conveyor/internal/state"
	"github.com/conveyorci/conveyor/pkg/models"
)

// Orchestrator executes one run of a pipeline.
type Orchestrator struct {
	run    *models.Run
	def    *pipeline.Definition
	stages []*models.Stage
	graph  *graph.StageGraph
	sched  *Scheduler
	sc     *stage.Context

	store  *state.Store
	logger *DebugLogger

	stageTimeout time.Duration
	pollInterval time.Duration

	// events delivers run progress; dropped counts events discarded
	// because the channel was full.
	events  chan RunEvent
	dropped atomic.Uint64

	wg sync.WaitGroup

	closeOnce sync.Once
}

// New creates an orchestrator for one run. The stage context carries the
// run's checkout, runner, and service clients.
func New(run *models.Run, def *pipeline.Definition, sc *stage.Context, opts ...Option) *Orchestrator {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	g := graph.New()
	o := &Orchestrator{
		run:          run,
		def:          def,
		graph:        g,
		sc:           sc,
		store:        options.store,
		logger:       options.logger,
		stageTimeout: options.stageTimeout,
		pollInterval: options.pollInterval,
		events:       make(chan RunEvent, options.eventBuffer),
	}

	o.stages = def.MaterializeStages()
	o.sched = NewScheduler(g, options.maxParallelStages)

	if o.logger != nil {
		setPackageLogger(o.logger)
		g.SetDebugLog(debugLog)
	}

	// The pipeline definition supplies the matrix and path templates unless
	// the caller already set them.
	if sc != nil {
		if len(sc.Matrix.Pythons) == 0 {
			sc.Matrix = def.Matrix
		}
		if sc.VersionFile == "" {
			sc.VersionFile = def.VersionFile
		}
		if sc.TestConfig == "" {
			sc.TestConfig = def.TestConfig
		}
	}

	// Forward cell transitions as events unless the caller installed its
	// own hook.
	if sc != nil && sc.OnCell == nil {
		sc.OnCell = func(stageName string, cell *models.MatrixCell) {
			copied := *cell
			o.emitEvent(RunEvent{
				Type:      EventCellUpdate,
				RunID:     run.ID,
				Stage:     stageName,
				Cell:      &copied,
				Timestamp: time.Now(),
			})
		}
	}

	return o
}

// Events returns the channel delivering run progress events. The channel is
// closed when the run finishes.
func (o *Orchestrator) Events() <-chan RunEvent {
	return o.events
}

// DroppedEventCount returns how many events were dropped because the event
// channel was full.
func (o *Orchestrator) DroppedEventCount() uint64 {
	return o.dropped.Load()
}

// Stages returns the run's materialized stages.
func (o *Orchestrator) Stages() []*models.Stage {
	return o.stages
}

// emitEvent sends an event without blocking; a full channel drops the event
// and bumps the counter.
func (o *Orchestrator) emitEvent(ev RunEvent) {
	select {
	case o.events <- ev:
	default:
		o.dropped.Add(1)
	}
}

func (o *Orchestrator) closeEvents() {
	o.closeOnce.Do(func() { close(o.events) })
}
