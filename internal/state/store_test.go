package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "conveyor.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRun(id string) *models.Run {
	return &models.Run{
		ID:       id,
		Pipeline: "release",
		Group:    "release-main",
		Status:   models.RunPending,
		Event: models.Event{
			Type:   models.EventPush,
			Branch: "main",
			Ref:    "abc123",
			Files:  []string{"src/app.py"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestRunRoundTrip(t *testing.T) {
	store := testStore(t)

	run := testRun("r-1")
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := store.GetRun("r-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Pipeline != "release" || got.Group != "release-main" {
		t.Errorf("run round trip lost fields: %+v", got)
	}
	if got.Event.Type != models.EventPush || got.Event.Branch != "main" {
		t.Errorf("event round trip lost fields: %+v", got.Event)
	}
	if got.FinishedAt != nil {
		t.Error("pending run should have no finished_at")
	}
}

func TestUpdateRunStatusStampsFinishedAt(t *testing.T) {
	store := testStore(t)

	run := testRun("r-1")
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := store.UpdateRunStatus("r-1", models.RunRunning); err != nil {
		t.Fatalf("UpdateRunStatus running: %v", err)
	}
	got, _ := store.GetRun("r-1")
	if got.FinishedAt != nil {
		t.Error("running run should have no finished_at")
	}

	if err := store.UpdateRunStatus("r-1", models.RunSucceeded); err != nil {
		t.Fatalf("UpdateRunStatus succeeded: %v", err)
	}
	got, _ = store.GetRun("r-1")
	if got.Status != models.RunSucceeded {
		t.Errorf("Status = %q, want succeeded", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("terminal run should have finished_at")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := testStore(t)

	old := testRun("r-old")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.CreateRun(old); err != nil {
		t.Fatalf("CreateRun old: %v", err)
	}
	if err := store.CreateRun(testRun("r-new")); err != nil {
		t.Fatalf("CreateRun new: %v", err)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r-new" {
		t.Errorf("expected newest first, got %v", runIDs(runs))
	}
}

func runIDs(runs []*models.Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestStageLifecycle(t *testing.T) {
	store := testStore(t)

	if err := store.CreateRun(testRun("r-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	stages := []*models.Stage{
		{Name: "style-black", Kind: models.StageCommand, Status: models.StagePending},
		{Name: "testing", Kind: models.StageTestMatrix, Status: models.StagePending},
	}
	if err := store.CreateStages("r-1", stages); err != nil {
		t.Fatalf("CreateStages: %v", err)
	}

	now := time.Now().UTC()
	stages[0].Status = models.StageSucceeded
	stages[0].StartedAt = &now
	stages[0].FinishedAt = &now
	if err := store.UpdateStage("r-1", stages[0]); err != nil {
		t.Fatalf("UpdateStage: %v", err)
	}

	got, err := store.ListStages("r-1")
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(got))
	}
	if got[0].Status != models.StageSucceeded || got[0].FinishedAt == nil {
		t.Errorf("stage update lost: %+v", got[0])
	}
	if got[1].Status != models.StagePending {
		t.Errorf("untouched stage changed: %+v", got[1])
	}
}

func TestCellUpsert(t *testing.T) {
	store := testStore(t)

	if err := store.CreateRun(testRun("r-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	cell := &models.MatrixCell{Python: "3.10", Database: "postgres", Status: models.CellRunning, Attempts: 1}
	if err := store.UpsertCell("r-1", "testing", cell); err != nil {
		t.Fatalf("UpsertCell insert: %v", err)
	}

	cell.Status = models.CellSucceeded
	cell.Attempts = 2
	if err := store.UpsertCell("r-1", "testing", cell); err != nil {
		t.Fatalf("UpsertCell update: %v", err)
	}

	cells, err := store.ListCells("r-1", "testing")
	if err != nil {
		t.Fatalf("ListCells: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("upsert created duplicate rows: %d", len(cells))
	}
	if cells[0].Status != models.CellSucceeded || cells[0].Attempts != 2 {
		t.Errorf("cell not updated: %+v", cells[0])
	}
}

func TestPurgeOldRuns(t *testing.T) {
	store := testStore(t)

	old := testRun("r-old")
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	if err := store.CreateRun(old); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.UpdateRunStatus("r-old", models.RunSucceeded); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	// finished_at is stamped now, so purge with a future cutoff.
	n, err := store.PurgeOldRuns(time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeOldRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d runs, want 1", n)
	}
	if _, err := store.GetRun("r-old"); err == nil {
		t.Error("purged run still readable")
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var store *Store
	if err := store.CreateRun(testRun("r-1")); err != nil {
		t.Errorf("nil store CreateRun: %v", err)
	}
	if err := store.UpdateRunStatus("r-1", models.RunRunning); err != nil {
		t.Errorf("nil store UpdateRunStatus: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("nil store Close: %v", err)
	}
}
