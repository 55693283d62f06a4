package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/orchestrator"
	"github.com/conveyorci/conveyor/internal/pipeline"
	"github.com/conveyorci/conveyor/internal/tui"
	"github.com/conveyorci/conveyor/pkg/models"
)

var (
	runPipelineFile string
	runRepo         string
	runEventType    string
	runBranch       string
	runRef          string
	runFiles        []string
	runTag          string
	runAction       string
	runWatch        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger a pipeline run from a synthetic event",
	Long: `Run builds an event from flags, submits it against the pipeline
triggers, and follows the resulting run until it finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		def, err := loadPipeline(runPipelineFile)
		if err != nil {
			return err
		}

		ev := models.Event{
			Type:       models.EventType(runEventType),
			Branch:     runBranch,
			Ref:        runRef,
			Files:      runFiles,
			Tag:        runTag,
			Action:     runAction,
			ReceivedAt: time.Now(),
		}
		if !ev.Type.Valid() {
			return fmt.Errorf("unknown event type %q (push, pull_request, release)", runEventType)
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		pool := newPool(cfg, store, []*pipeline.Definition{def}, runRepo)

		started, err := pool.Submit(ev)
		if err != nil {
			return err
		}
		if len(started) == 0 {
			fmt.Println("event matched no pipeline, nothing to run")
			return pool.Stop()
		}

		var runErr error
		if runWatch {
			runErr = watchRun(def, started[0], pool)
		} else {
			runErr = followRuns(started, pool)
		}
		if err := pool.Stop(); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPipelineFile, "pipeline", "p", "", "pipeline file (default: built-in release pipeline)")
	runCmd.Flags().StringVarP(&runRepo, "repo", "r", ".", "repository to run against (local path or clone URL)")
	runCmd.Flags().StringVarP(&runEventType, "event", "e", "push", "event type: push, pull_request, release")
	runCmd.Flags().StringVarP(&runBranch, "branch", "b", "main", "head branch for push and pull_request events")
	runCmd.Flags().StringVar(&runRef, "ref", "", "commit SHA the run operates on")
	runCmd.Flags().StringSliceVar(&runFiles, "files", nil, "changed paths for trigger path filtering")
	runCmd.Flags().StringVar(&runTag, "tag", "", "release tag, e.g. v2.3.0")
	runCmd.Flags().StringVar(&runAction, "action", "", "release action, e.g. published")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "follow the run in a live terminal view")
}

// watchRun renders the run's progress in the terminal UI.
func watchRun(def *pipeline.Definition, runID string, pool *orchestrator.RunPool) error {
	names := make([]string, 0, len(def.Stages))
	for _, sd := range def.Stages {
		names = append(names, sd.Name)
	}
	model := tui.NewModel(runID, names, pool.Events())
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// followRuns prints run events as plain lines until every started run
// reaches a terminal state.
func followRuns(started []string, pool *orchestrator.RunPool) error {
	pending := make(map[string]bool, len(started))
	for _, id := range started {
		pending[id] = true
	}

	var failed []string
	for ev := range pool.Events() {
		printEvent(ev)

		switch ev.Type {
		case orchestrator.EventRunDone:
			delete(pending, ev.RunID)
		case orchestrator.EventRunFailed, orchestrator.EventRunCancelled:
			delete(pending, ev.RunID)
			failed = append(failed, ev.RunID)
		}
		if len(pending) == 0 {
			break
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("run %v did not succeed", failed)
	}
	return nil
}

func printEvent(ev orchestrator.RunEvent) {
	switch ev.Type {
	case orchestrator.EventCellUpdate:
		if ev.Cell != nil {
			fmt.Printf("[%s] %s %s: %s (attempt %d)\n",
				ev.RunID, ev.Stage, ev.Cell.Key(), ev.Cell.Status, ev.Cell.Attempts)
		}
	case orchestrator.EventRunDone, orchestrator.EventRunFailed, orchestrator.EventRunCancelled:
		fmt.Printf("[%s] run %s\n", ev.RunID, ev.Message)
	default:
		line := fmt.Sprintf("[%s] %s %s", ev.RunID, ev.Stage, ev.Type)
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		fmt.Fprintln(os.Stdout, line)
	}
}
