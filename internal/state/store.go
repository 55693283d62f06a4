package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Store persists run history. A nil *Store is a valid no-op store, so the
// orchestrator can run without a database in tests.
type Store struct {
	db *DB
}

// NewStore opens the database at path and applies migrations.
func NewStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun records a new run with its triggering event.
func (s *Store) CreateRun(run *models.Run) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, pipeline, concurrency_group, status, event_type, branch, ref, tag, action, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, run.Group, string(run.Status),
		string(run.Event.Type), run.Event.Branch, run.Event.Ref,
		run.Event.Tag, run.Event.Action, run.Version, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunStatus moves a run to a new status, stamping finished_at when the
// status is terminal.
func (s *Store) UpdateRunStatus(runID string, status models.RunStatus) error {
	if s == nil {
		return nil
	}
	var err error
	if status.Terminal() {
		_, err = s.db.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
			string(status), time.Now().UTC(), runID)
	} else {
		_, err = s.db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, string(status), runID)
	}
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	return nil
}

// SetRunVersion records the version resolved from the release tag.
func (s *Store) SetRunVersion(runID, version string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`UPDATE runs SET version = ? WHERE id = ?`, version, runID)
	if err != nil {
		return fmt.Errorf("set run version %s: %w", runID, err)
	}
	return nil
}

// GetRun loads a single run by ID.
func (s *Store) GetRun(runID string) (*models.Run, error) {
	if s == nil {
		return nil, fmt.Errorf("no store configured")
	}
	row := s.db.QueryRow(`
		SELECT id, pipeline, concurrency_group, status, event_type, branch, ref, tag, action, version, created_at, finished_at
		FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*models.Run, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, pipeline, concurrency_group, status, event_type, branch, ref, tag, action, version, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run        models.Run
		status     string
		eventType  string
		branch     sql.NullString
		ref        sql.NullString
		tag        sql.NullString
		action     sql.NullString
		version    sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Pipeline, &run.Group, &status, &eventType,
		&branch, &ref, &tag, &action, &version, &run.CreatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.Event.Type = models.EventType(eventType)
	run.Event.Branch = branch.String
	run.Event.Ref = ref.String
	run.Event.Tag = tag.String
	run.Event.Action = action.String
	run.Version = version.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// CreateStages records the materialized stages of a run.
func (s *Store) CreateStages(runID string, stages []*models.Stage) error {
	if s == nil {
		return nil
	}
	for _, st := range stages {
		_, err := s.db.Exec(`
			INSERT INTO stages (run_id, name, kind, status)
			VALUES (?, ?, ?, ?)`,
			runID, st.Name, string(st.Kind), string(st.Status))
		if err != nil {
			return fmt.Errorf("create stage %s/%s: %w", runID, st.Name, err)
		}
	}
	return nil
}

// UpdateStage persists the current status of a stage.
func (s *Store) UpdateStage(runID string, st *models.Stage) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`
		UPDATE stages SET status = ?, blocked_reason = ?, started_at = ?, finished_at = ?
		WHERE run_id = ? AND name = ?`,
		string(st.Status), st.BlockedReason, st.StartedAt, st.FinishedAt, runID, st.Name)
	if err != nil {
		return fmt.Errorf("update stage %s/%s: %w", runID, st.Name, err)
	}
	return nil
}

// ListStages returns the stages of a run in insertion order.
func (s *Store) ListStages(runID string) ([]*models.Stage, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT name, kind, status, blocked_reason, started_at, finished_at
		FROM stages WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages for %s: %w", runID, err)
	}
	defer rows.Close()

	var stages []*models.Stage
	for rows.Next() {
		var (
			st         models.Stage
			kind       string
			status     string
			reason     sql.NullString
			startedAt  sql.NullTime
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&st.Name, &kind, &status, &reason, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		st.Kind = models.StageKind(kind)
		st.Status = models.StageStatus(status)
		st.BlockedReason = reason.String
		if startedAt.Valid {
			t := startedAt.Time
			st.StartedAt = &t
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			st.FinishedAt = &t
		}
		stages = append(stages, &st)
	}
	return stages, rows.Err()
}

// UpsertCell persists the latest state of one matrix cell.
func (s *Store) UpsertCell(runID, stage string, cell *models.MatrixCell) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO cells (run_id, stage, python, db, status, attempts, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, stage, python, db)
		DO UPDATE SET status = excluded.status, attempts = excluded.attempts, failure_reason = excluded.failure_reason`,
		runID, stage, cell.Python, cell.Database,
		string(cell.Status), cell.Attempts, cell.FailureReason)
	if err != nil {
		return fmt.Errorf("upsert cell %s/%s: %w", runID, cell.Key(), err)
	}
	return nil
}

// ListCells returns the matrix cells recorded for a stage of a run.
func (s *Store) ListCells(runID, stage string) ([]*models.MatrixCell, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT python, db, status, attempts, failure_reason
		FROM cells WHERE run_id = ? AND stage = ? ORDER BY rowid`, runID, stage)
	if err != nil {
		return nil, fmt.Errorf("list cells for %s/%s: %w", runID, stage, err)
	}
	defer rows.Close()

	var cells []*models.MatrixCell
	for rows.Next() {
		var (
			cell   models.MatrixCell
			status string
			reason sql.NullString
		)
		if err := rows.Scan(&cell.Python, &cell.Database, &status, &cell.Attempts, &reason); err != nil {
			return nil, err
		}
		cell.Status = models.CellStatus(status)
		cell.FailureReason = reason.String
		cells = append(cells, &cell)
	}
	return cells, rows.Err()
}

// PurgeOldRuns deletes finished runs older than the cutoff. Stages and cells
// go with them through the foreign key cascade.
func (s *Store) PurgeOldRuns(before time.Time) (int64, error) {
	if s == nil {
		return 0, nil
	}
	res, err := s.db.Exec(`
		DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return res.RowsAffected()
}
