package orchestrator

import (
	"time"

	"github.com/conveyorci/conveyor/internal/state"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxParallelStages int
	stageTimeout      time.Duration
	pollInterval      time.Duration
	eventBuffer       int
	logger            *DebugLogger
	store             *state.Store
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		pollInterval: 50 * time.Millisecond,
		eventBuffer:  100,
	}
}

// WithMaxParallelStages caps the number of concurrently running stages.
// Zero means no cap.
func WithMaxParallelStages(n int) Option {
	return func(o *orchestratorOptions) { o.maxParallelStages = n }
}

// WithStageTimeout bounds the wall-clock time of a single stage.
// Zero disables the timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.stageTimeout = d }
}

// WithPollInterval sets the scheduler idle poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithStore sets the run history store. A nil store disables persistence.
func WithStore(s *state.Store) Option {
	return func(o *orchestratorOptions) { o.store = s }
}
