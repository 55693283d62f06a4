package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/matrix"
	"github.com/conveyorci/conveyor/pkg/models"
)

// fakeRunner records commands and fails ones matching a pattern a set
// number of times.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]int // substring -> remaining failures (-1 = always)
}

func (r *fakeRunner) Run(ctx context.Context, workDir string, env []string, name string, args ...string) ([]byte, error) {
	return r.RunShell(ctx, workDir, env, name+" "+strings.Join(args, " "))
}

func (r *fakeRunner) RunShell(ctx context.Context, workDir string, env []string, command string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, command)
	for pattern, left := range r.failures {
		if !strings.Contains(command, pattern) {
			continue
		}
		if left == -1 {
			return []byte("boom"), fmt.Errorf("exit status 1")
		}
		if left > 0 {
			r.failures[pattern] = left - 1
			return []byte("boom"), fmt.Errorf("exit status 1")
		}
	}
	return []byte("ok"), nil
}

func (r *fakeRunner) callCount(pattern string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.Contains(c, pattern) {
			n++
		}
	}
	return n
}

func TestCommandStageRunsAllCommands(t *testing.T) {
	runner := &fakeRunner{}
	sc := &Context{RunID: "r-1", Dir: "/work", Runner: runner}
	st := &models.Stage{Name: "style-black", Kind: models.StageCommand,
		Commands: []string{"black --check .", "isort --check-only ."}}

	if err := (&CommandStage{}).Execute(context.Background(), sc, st); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Errorf("ran %d commands, want 2", len(runner.calls))
	}
}

func TestCommandStageStopsOnFailure(t *testing.T) {
	runner := &fakeRunner{failures: map[string]int{"black": -1}}
	sc := &Context{RunID: "r-1", Runner: runner}
	st := &models.Stage{Name: "style", Kind: models.StageCommand,
		Commands: []string{"black --check .", "isort --check-only ."}}

	err := (&CommandStage{}).Execute(context.Background(), sc, st)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(runner.calls) != 1 {
		t.Errorf("ran %d commands after failure, want 1", len(runner.calls))
	}
	if !strings.Contains(err.Error(), "black") {
		t.Errorf("error does not name the failing command: %v", err)
	}
}

func TestRetrierSucceedsWithinBudget(t *testing.T) {
	calls := 0
	attempts, err := Retrier{MaxReruns: 3}.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetrierExhaustsBudget(t *testing.T) {
	calls := 0
	attempts, err := Retrier{MaxReruns: 3}.Do(context.Background(), func(int) error {
		calls++
		return fmt.Errorf("always failing")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 4 || calls != 4 {
		t.Errorf("attempts = %d, calls = %d, want 4 each", attempts, calls)
	}
}

func TestRetrierStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, err := Retrier{MaxReruns: 3}.Do(ctx, func(int) error { return nil })
	if err == nil {
		t.Fatal("expected context error")
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
}

func sqliteMatrix(pythons ...string) matrix.Matrix {
	return matrix.Matrix{Pythons: pythons, Databases: []string{"sqlite"}}
}

func TestTestMatrixRetriesFlakyCell(t *testing.T) {
	runner := &fakeRunner{failures: map[string]int{"pytest": 2}}
	sc := &Context{RunID: "r-1", Runner: runner, Matrix: sqliteMatrix("3.10"), MaxReruns: 3}
	exec := &TestMatrixStage{SetupCommands: []string{}, TestCommand: "pytest --python {python} --db {database}"}
	st := &models.Stage{Name: "testing", Kind: models.StageTestMatrix}

	if err := exec.Execute(context.Background(), sc, st); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := runner.callCount("pytest"); got != 3 {
		t.Errorf("pytest ran %d times, want 3", got)
	}
}

func TestTestMatrixFailsAfterRerunBudget(t *testing.T) {
	runner := &fakeRunner{failures: map[string]int{"pytest": -1}}
	var reported []*models.MatrixCell
	var mu sync.Mutex
	sc := &Context{
		RunID: "r-1", Runner: runner, Matrix: sqliteMatrix("3.10"), MaxReruns: 3,
		OnCell: func(stage string, cell *models.MatrixCell) {
			mu.Lock()
			copied := *cell
			reported = append(reported, &copied)
			mu.Unlock()
		},
	}
	exec := &TestMatrixStage{SetupCommands: []string{}, TestCommand: "pytest {python}"}
	st := &models.Stage{Name: "testing", Kind: models.StageTestMatrix}

	err := exec.Execute(context.Background(), sc, st)
	if err == nil {
		t.Fatal("expected error")
	}
	// 1 initial attempt + 3 re-runs
	if got := runner.callCount("pytest"); got != 4 {
		t.Errorf("pytest ran %d times, want 4", got)
	}

	last := reported[len(reported)-1]
	if last.Status != models.CellFailed || last.Attempts != 4 {
		t.Errorf("final cell state = %+v", last)
	}
}

func TestTestMatrixRunsAllCellsDespiteFailure(t *testing.T) {
	// fail-fast is disabled: the 3.9 cell failing must not stop 3.10.
	runner := &fakeRunner{failures: map[string]int{"--python 3.9": -1}}
	sc := &Context{RunID: "r-1", Runner: runner, Matrix: sqliteMatrix("3.9", "3.10")}
	exec := &TestMatrixStage{SetupCommands: []string{}, TestCommand: "pytest --python {python}"}
	st := &models.Stage{Name: "testing", Kind: models.StageTestMatrix}

	err := exec.Execute(context.Background(), sc, st)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "py3.9-sqlite") {
		t.Errorf("error does not name the failed cell: %v", err)
	}
	if got := runner.callCount("--python 3.10"); got != 1 {
		t.Errorf("healthy cell ran %d times, want 1", got)
	}
}

func TestTestMatrixRunsSetupBeforeTests(t *testing.T) {
	runner := &fakeRunner{}
	sc := &Context{RunID: "r-1", Runner: runner, Matrix: sqliteMatrix("3.10")}
	exec := &TestMatrixStage{
		SetupCommands: []string{"pip{python} install -e ."},
		TestCommand:   "pytest {python}",
	}
	st := &models.Stage{Name: "testing", Kind: models.StageTestMatrix}

	if err := exec.Execute(context.Background(), sc, st); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(runner.calls) != 2 || !strings.Contains(runner.calls[0], "pip3.10 install") {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestExpandTemplate(t *testing.T) {
	sc := &Context{TestConfig: "src/tests/app.{database}.cfg"}
	cell := &models.MatrixCell{Python: "3.10", Database: "postgres"}
	got := (&TestMatrixStage{}).expand(sc, cell, "pytest -c {config} --python {python} -n {parallel}")

	if !strings.Contains(got, "src/tests/app.postgres.cfg") {
		t.Errorf("config not expanded: %q", got)
	}
	if !strings.Contains(got, "--python 3.10") {
		t.Errorf("python not expanded: %q", got)
	}
	if strings.Contains(got, "{parallel}") {
		t.Errorf("parallel not expanded: %q", got)
	}
}

func TestPackageBuildRecordsArtifactBundle(t *testing.T) {
	workDir := t.TempDir()
	distDir := filepath.Join(workDir, "src", "dist")
	if err := os.MkdirAll(distDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for name, body := range map[string]string{
		"app-1.0.0-py3-none-any.whl": "wheel",
		"app-1.0.0.tar.gz":           "sdist",
	} {
		if err := os.WriteFile(filepath.Join(distDir, name), []byte(body), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	arts, err := artifact.NewStore(t.TempDir(), "r-1")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sc := &Context{RunID: "r-1", Dir: workDir, Runner: &fakeRunner{}, Artifacts: arts}
	st := &models.Stage{Name: "build-python-package", Kind: models.StagePackageBuild}

	if err := (&PackageBuildStage{}).Execute(context.Background(), sc, st); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(arts.List()) != 2 {
		t.Fatalf("artifacts = %v", arts.List())
	}
	data, err := os.ReadFile(filepath.Join(arts.Dir(), "manifest.yaml"))
	if err != nil {
		t.Fatalf("bundle manifest not written: %v", err)
	}
	for _, want := range []string{"r-1", "app-1.0.0-py3-none-any.whl", "app-1.0.0.tar.gz"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("manifest missing %q:\n%s", want, data)
		}
	}
}

func TestForKindCoversAllKinds(t *testing.T) {
	kinds := []models.StageKind{
		models.StageCommand, models.StageTestMatrix,
		models.StagePackageBuild, models.StagePackagePublish,
		models.StageImageBuild, models.StageImagePush,
	}
	for _, k := range kinds {
		if _, err := ForKind(k); err != nil {
			t.Errorf("ForKind(%s): %v", k, err)
		}
	}
	if _, err := ForKind("bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
