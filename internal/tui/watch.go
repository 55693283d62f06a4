// Package tui renders live run progress in the terminal.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/conveyorci/conveyor/internal/orchestrator"
	"github.com/conveyorci/conveyor/pkg/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// stageRow is the display state of one stage.
type stageRow struct {
	name   string
	status models.StageStatus
	note   string
	cells  map[string]*models.MatrixCell
}

// Model is the watch view over a stream of run events.
type Model struct {
	runID  string
	events <-chan orchestrator.RunEvent

	spinner spinner.Model

	order  []string
	stages map[string]*stageRow

	done    bool
	outcome string
}

// NewModel creates a watch model over the given event stream. stageNames
// fixes the display order; stages appearing only in events are appended.
func NewModel(runID string, stageNames []string, events <-chan orchestrator.RunEvent) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		runID:   runID,
		events:  events,
		spinner: sp,
		stages:  make(map[string]*stageRow),
	}
	for _, name := range stageNames {
		m.order = append(m.order, name)
		m.stages[name] = &stageRow{name: name, status: models.StagePending}
	}
	return m
}

type eventsClosedMsg struct{}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return ev
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventsClosedMsg:
		m.done = true
		return m, tea.Quit

	case orchestrator.RunEvent:
		m.apply(msg)
		if m.done {
			return m, tea.Quit
		}
		return m, m.waitForEvent()
	}

	return m, nil
}

func (m *Model) apply(ev orchestrator.RunEvent) {
	switch ev.Type {
	case orchestrator.EventRunDone, orchestrator.EventRunFailed, orchestrator.EventRunCancelled:
		m.done = true
		m.outcome = ev.Message
		return
	}

	if ev.Stage == "" {
		return
	}
	row := m.row(ev.Stage)

	switch ev.Type {
	case orchestrator.EventStageStarted:
		row.status = models.StageRunning
	case orchestrator.EventStageSucceeded:
		row.status = models.StageSucceeded
	case orchestrator.EventStageFailed:
		row.status = models.StageFailed
		row.note = ev.Message
	case orchestrator.EventStageBlocked:
		row.status = models.StageBlocked
		row.note = ev.Message
	case orchestrator.EventStageSkipped:
		row.status = models.StageSkipped
		row.note = ev.Message
	case orchestrator.EventCellUpdate:
		if ev.Cell != nil {
			if row.cells == nil {
				row.cells = make(map[string]*models.MatrixCell)
			}
			row.cells[ev.Cell.Key()] = ev.Cell
		}
	}
}

func (m *Model) row(name string) *stageRow {
	if row, ok := m.stages[name]; ok {
		return row
	}
	row := &stageRow{name: name, status: models.StagePending}
	m.stages[name] = row
	m.order = append(m.order, name)
	return row
}

func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", titleStyle.Render("run "+m.runID))

	for _, name := range m.order {
		row := m.stages[name]
		fmt.Fprintf(&b, "  %s %-24s %s\n", m.glyph(row.status), name, m.annotate(row))
		for _, key := range sortedCellKeys(row.cells) {
			cell := row.cells[key]
			fmt.Fprintf(&b, "      %s %s%s\n", m.cellGlyph(cell.Status), key, retrySuffix(cell))
		}
	}

	if m.done {
		fmt.Fprintf(&b, "\n%s\n", titleStyle.Render(m.outcome))
	} else {
		fmt.Fprintf(&b, "\n%s\n", dimStyle.Render("q to quit"))
	}
	return b.String()
}

func (m Model) glyph(status models.StageStatus) string {
	switch status {
	case models.StageSucceeded:
		return okStyle.Render("✓")
	case models.StageFailed, models.StageBlocked:
		return failStyle.Render("✗")
	case models.StageSkipped:
		return skipStyle.Render("–")
	case models.StageRunning:
		return runningStyle.Render(m.spinner.View())
	case models.StageCancelled:
		return skipStyle.Render("⊘")
	default:
		return dimStyle.Render("·")
	}
}

func (m Model) cellGlyph(status models.CellStatus) string {
	switch status {
	case models.CellSucceeded:
		return okStyle.Render("✓")
	case models.CellFailed:
		return failStyle.Render("✗")
	case models.CellRunning:
		return runningStyle.Render(m.spinner.View())
	case models.CellCancelled:
		return skipStyle.Render("⊘")
	default:
		return dimStyle.Render("·")
	}
}

func (m Model) annotate(row *stageRow) string {
	if row.note == "" {
		return ""
	}
	return dimStyle.Render(row.note)
}

func retrySuffix(cell *models.MatrixCell) string {
	if cell.Attempts <= 1 {
		return ""
	}
	return dimStyle.Render(fmt.Sprintf(" (attempt %d)", cell.Attempts))
}

func sortedCellKeys(cells map[string]*models.MatrixCell) []string {
	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
