package tui

import (
	"strings"
	"testing"

	"github.com/conveyorci/conveyor/internal/orchestrator"
	"github.com/conveyorci/conveyor/pkg/models"
)

func TestApplyStageTransitions(t *testing.T) {
	m := NewModel("r-1", []string{"style", "testing"}, nil)

	m.apply(orchestrator.RunEvent{Type: orchestrator.EventStageStarted, Stage: "style"})
	if m.stages["style"].status != models.StageRunning {
		t.Errorf("style status = %v", m.stages["style"].status)
	}

	m.apply(orchestrator.RunEvent{Type: orchestrator.EventStageSucceeded, Stage: "style"})
	m.apply(orchestrator.RunEvent{
		Type: orchestrator.EventStageFailed, Stage: "testing", Message: "2 cells failed",
	})
	if m.stages["testing"].status != models.StageFailed || m.stages["testing"].note == "" {
		t.Errorf("testing row = %+v", m.stages["testing"])
	}
}

func TestApplyCellUpdates(t *testing.T) {
	m := NewModel("r-1", []string{"testing"}, nil)

	m.apply(orchestrator.RunEvent{
		Type:  orchestrator.EventCellUpdate,
		Stage: "testing",
		Cell:  &models.MatrixCell{Python: "3.10", Database: "postgres", Status: models.CellRunning, Attempts: 2},
	})

	row := m.stages["testing"]
	if len(row.cells) != 1 {
		t.Fatalf("cells = %v", row.cells)
	}
	if row.cells["py3.10-postgres"].Attempts != 2 {
		t.Errorf("cell attempts = %d", row.cells["py3.10-postgres"].Attempts)
	}
}

func TestApplyRunDoneMarksFinished(t *testing.T) {
	m := NewModel("r-1", nil, nil)
	m.apply(orchestrator.RunEvent{Type: orchestrator.EventRunDone, Message: "succeeded"})
	if !m.done || m.outcome != "succeeded" {
		t.Errorf("done = %v, outcome = %q", m.done, m.outcome)
	}
}

func TestViewListsStagesInOrder(t *testing.T) {
	m := NewModel("r-1", []string{"style", "testing", "build"}, nil)
	m.apply(orchestrator.RunEvent{Type: orchestrator.EventStageSucceeded, Stage: "style"})

	out := m.View()
	if !strings.Contains(out, "run r-1") {
		t.Errorf("view missing run header:\n%s", out)
	}
	if strings.Index(out, "style") > strings.Index(out, "testing") {
		t.Errorf("stages out of order:\n%s", out)
	}
	// Unknown stages from events are appended.
	m.apply(orchestrator.RunEvent{Type: orchestrator.EventStageStarted, Stage: "extra"})
	if !strings.Contains(m.View(), "extra") {
		t.Error("event-discovered stage not rendered")
	}
}
