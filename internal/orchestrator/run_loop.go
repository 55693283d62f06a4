package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyorci/conveyor/internal/stage"
	"github.com/conveyorci/conveyor/pkg/models"
)

// completion carries a finished stage back to the run loop.
type completion struct {
	name string
	err  error
}

// Run executes the run to completion: it resolves stage conditions, walks
// the dependency graph, and dispatches ready stages until every stage has a
// terminal state. The returned error reports fatal orchestration failures,
// not stage failures; those end up in the run status.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.closeEvents()

	if err := o.graph.Build(o.stages); err != nil {
		return fmt.Errorf("build stage graph: %w", err)
	}

	if o.store != nil {
		if err := o.store.CreateStages(o.run.ID, o.stages); err != nil {
			return err
		}
	}

	o.run.Status = models.RunRunning
	o.persistRun()

	// Stages whose condition is not met resolve as skipped before anything
	// runs, and the skip propagates to their dependents.
	o.resolveConditions()

	completionCh := make(chan completion, len(o.stages))

	for {
		if o.graph.Resolved() && o.sched.RunningCount() == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return o.finishCancelled(ctx, completionCh)

		case c := <-completionCh:
			o.handleCompletion(ctx, c)

		default:
			ready := o.sched.Schedule()
			if len(ready) == 0 {
				// Nothing to start; wait for a completion or poll again.
				select {
				case <-ctx.Done():
					return o.finishCancelled(ctx, completionCh)
				case c := <-completionCh:
					o.handleCompletion(ctx, c)
				case <-time.After(o.pollInterval):
				}
				continue
			}

			for _, st := range ready {
				o.startStage(ctx, st, completionCh)
			}
		}
	}

	o.finalize(models.RunStatus(""))
	return nil
}

// resolveConditions skips stages whose condition the triggering event does
// not satisfy.
func (o *Orchestrator) resolveConditions() {
	for _, st := range o.stages {
		if st.Condition != models.ConditionReleasePublished {
			continue
		}
		if o.run.Event.IsPublishedRelease() {
			continue
		}
		skipped := o.sched.Skip(st.Name, "condition_unmet:release-published")
		o.reportSkip(st.Name)
		for _, name := range skipped {
			o.reportSkip(name)
		}
	}
}

func (o *Orchestrator) startStage(ctx context.Context, st *models.Stage, completionCh chan completion) {
	o.emitEvent(RunEvent{
		Type: EventStageQueued, RunID: o.run.ID, Stage: st.Name, Timestamp: time.Now(),
	})

	now := time.Now().UTC()
	st.Status = models.StageRunning
	st.StartedAt = &now
	o.persistStage(st)
	o.sched.OnStageStart(st.Name)

	o.emitEvent(RunEvent{
		Type: EventStageStarted, RunID: o.run.ID, Stage: st.Name, Timestamp: time.Now(),
	})
	o.logger.Log("[run %s] stage %s started", o.run.ID, st.Name)

	o.wg.Add(1)
	go func(st *models.Stage) {
		defer o.wg.Done()

		exec, err := stage.ForKind(st.Kind)
		if err == nil {
			stageCtx := ctx
			if o.stageTimeout > 0 {
				var cancel context.CancelFunc
				stageCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
				defer cancel()
			}
			err = exec.Execute(stageCtx, o.sc, st)
		}

		completionCh <- completion{name: st.Name, err: err}
	}(st)
}

func (o *Orchestrator) handleCompletion(ctx context.Context, c completion) {
	st := o.graph.Stage(c.name)
	if st == nil {
		return
	}

	now := time.Now().UTC()
	st.FinishedAt = &now

	if c.err == nil {
		st.Status = models.StageSucceeded
		o.persistStage(st)
		o.sched.OnStageComplete(c.name, true)
		o.emitEvent(RunEvent{
			Type: EventStageSucceeded, RunID: o.run.ID, Stage: c.name, Timestamp: time.Now(),
		})
		o.logger.Log("[run %s] stage %s succeeded", o.run.ID, c.name)
		return
	}

	if ctx.Err() != nil {
		st.Status = models.StageCancelled
	} else {
		st.Status = models.StageFailed
	}
	o.persistStage(st)

	blocked := o.sched.OnStageComplete(c.name, false)
	o.emitEvent(RunEvent{
		Type: EventStageFailed, RunID: o.run.ID, Stage: c.name,
		Error: c.err, Message: c.err.Error(), Timestamp: time.Now(),
	})
	o.logger.Log("[run %s] stage %s failed: %v", o.run.ID, c.name, c.err)

	for _, name := range blocked {
		dep := o.graph.Stage(name)
		o.persistStage(dep)
		o.emitEvent(RunEvent{
			Type: EventStageBlocked, RunID: o.run.ID, Stage: name,
			Message: dep.BlockedReason, Timestamp: time.Now(),
		})
	}
}

// finishCancelled drains in-flight stages after the context is cancelled,
// marks everything unresolved as cancelled, and finalizes the run.
func (o *Orchestrator) finishCancelled(ctx context.Context, completionCh chan completion) error {
	for o.sched.RunningCount() > 0 {
		o.handleCompletion(ctx, <-completionCh)
	}
	o.wg.Wait()

	for _, st := range o.stages {
		if !st.Status.Terminal() {
			st.Status = models.StageCancelled
			o.persistStage(st)
		}
	}

	o.finalize(models.RunCancelled)
	return ctx.Err()
}

// finalize computes and records the run's terminal status. An explicit
// status (cancellation) wins; otherwise any failed, blocked or cancelled
// stage fails the run, and skipped stages do not.
func (o *Orchestrator) finalize(status models.RunStatus) {
	if status == "" {
		status = models.RunSucceeded
		for _, st := range o.stages {
			switch st.Status {
			case models.StageFailed, models.StageBlocked, models.StageCancelled:
				status = models.RunFailed
			}
		}
	}

	o.run.Status = status
	now := time.Now().UTC()
	o.run.FinishedAt = &now
	o.persistRun()

	eventType := EventRunDone
	switch status {
	case models.RunFailed:
		eventType = EventRunFailed
	case models.RunCancelled:
		eventType = EventRunCancelled
	}
	o.emitEvent(RunEvent{
		Type: eventType, RunID: o.run.ID,
		Message: string(status), Timestamp: time.Now(),
	})
	o.logger.Log("[run %s] finished: %s", o.run.ID, status)
}

func (o *Orchestrator) reportSkip(name string) {
	st := o.graph.Stage(name)
	if st == nil {
		return
	}
	o.persistStage(st)
	o.emitEvent(RunEvent{
		Type: EventStageSkipped, RunID: o.run.ID, Stage: name,
		Message: st.BlockedReason, Timestamp: time.Now(),
	})
	o.logger.Log("[run %s] stage %s skipped: %s", o.run.ID, name, st.BlockedReason)
}

func (o *Orchestrator) persistRun() {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateRunStatus(o.run.ID, o.run.Status); err != nil {
		o.logger.Log("[run %s] persist run: %v", o.run.ID, err)
	}
}

func (o *Orchestrator) persistStage(st *models.Stage) {
	if o.store == nil || st == nil {
		return
	}
	if err := o.store.UpdateStage(o.run.ID, st); err != nil {
		o.logger.Log("[run %s] persist stage %s: %v", o.run.ID, st.Name, err)
	}
}
