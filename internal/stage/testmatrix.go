package stage

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Default cell commands. Setup runs once per cell; the test command is the
// only part that gets re-run on failure.
var (
	defaultSetupCommands = []string{
		"python{python} -m pip install -e .",
		"python{python} -m pip install -r src/requirements/dev.txt",
		"python{python} src/manage.py compilemessages",
	}
	defaultTestCommand = "python{python} -m pytest src/tests -n {parallel} -c {config}"
)

// TestMatrixStage expands the pipeline matrix and runs every cell. Fail-fast
// is disabled: a failing cell never stops the others, and the stage result
// aggregates all cell results.
type TestMatrixStage struct {
	// SetupCommands and TestCommand override the defaults; used by tests.
	SetupCommands []string
	TestCommand   string
}

func (s *TestMatrixStage) Execute(ctx context.Context, sc *Context, st *models.Stage) error {
	cells := sc.Matrix.Expand()
	if len(cells) == 0 {
		return fmt.Errorf("%s: matrix expands to no cells", st.Name)
	}

	limit := sc.MaxParallelCells
	if limit <= 0 || limit > len(cells) {
		limit = len(cells)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for _, cell := range cells {
		wg.Add(1)
		go func(cell *models.MatrixCell) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			s.runCell(ctx, sc, st.Name, cell)
		}(cell)
	}
	wg.Wait()

	var failed []string
	for _, cell := range cells {
		if cell.Status != models.CellSucceeded {
			failed = append(failed, fmt.Sprintf("%s (%s)", cell.Key(), cell.FailureReason))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%s: %d of %d cells failed: %s",
			st.Name, len(failed), len(cells), strings.Join(failed, "; "))
	}
	return nil
}

func (s *TestMatrixStage) runCell(ctx context.Context, sc *Context, stageName string, cell *models.MatrixCell) {
	cell.Status = models.CellRunning
	sc.reportCell(stageName, cell)

	fail := func(reason string) {
		if ctx.Err() != nil {
			cell.Status = models.CellCancelled
		} else {
			cell.Status = models.CellFailed
		}
		cell.FailureReason = reason
		sc.reportCell(stageName, cell)
	}

	svc, err := provisionService(ctx, sc.Runner, cell.Database, sc.RunID+"-"+cell.Key())
	if err != nil {
		fail(err.Error())
		return
	}
	defer svc.Teardown(context.WithoutCancel(ctx), sc.Runner)

	env := append([]string{
		"CONVEYOR_PYTHON=" + cell.Python,
		"CONVEYOR_DATABASE=" + cell.Database,
	}, serviceEnv(svc)...)

	for _, cmd := range s.setupCommands() {
		expanded := s.expand(sc, cell, cmd)
		if out, err := sc.Runner.RunShell(ctx, sc.Dir, env, expanded); err != nil {
			fail(fmt.Sprintf("setup %q: %v: %s", expanded, err, firstLine(out)))
			return
		}
	}

	testCmd := s.expand(sc, cell, s.testCommand())
	attempts, err := Retrier{MaxReruns: sc.MaxReruns}.Do(ctx, func(attempt int) error {
		cell.Attempts = attempt
		if attempt > 1 {
			sc.reportCell(stageName, cell)
		}
		out, runErr := sc.Runner.RunShell(ctx, sc.Dir, env, testCmd)
		if runErr != nil {
			return fmt.Errorf("%v: %s", runErr, firstLine(out))
		}
		return nil
	})
	cell.Attempts = attempts
	if err != nil {
		fail(err.Error())
		return
	}

	cell.Status = models.CellSucceeded
	cell.FailureReason = ""
	sc.reportCell(stageName, cell)
}

func (s *TestMatrixStage) setupCommands() []string {
	if s.SetupCommands != nil {
		return s.SetupCommands
	}
	return defaultSetupCommands
}

func (s *TestMatrixStage) testCommand() string {
	if s.TestCommand != "" {
		return s.TestCommand
	}
	return defaultTestCommand
}

// expand substitutes the cell placeholders into a command template.
func (s *TestMatrixStage) expand(sc *Context, cell *models.MatrixCell, tmpl string) string {
	r := strings.NewReplacer(
		"{python}", cell.Python,
		"{database}", cell.Database,
		"{config}", strings.ReplaceAll(sc.TestConfig, "{database}", cell.Database),
		"{parallel}", strconv.Itoa(runtime.NumCPU()),
	)
	return r.Replace(tmpl)
}

func serviceEnv(svc *Service) []string {
	if svc == nil {
		return nil
	}
	return svc.Env
}

func firstLine(out []byte) string {
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}
