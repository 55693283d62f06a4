package models

import "fmt"

// CellStatus represents the lifecycle state of a single matrix cell.
type CellStatus string

const (
	// CellPending indicates the cell has not started.
	CellPending CellStatus = "pending"
	// CellRunning indicates the cell is executing.
	CellRunning CellStatus = "running"
	// CellSucceeded indicates the cell's test suite passed.
	CellSucceeded CellStatus = "succeeded"
	// CellFailed indicates the suite failed after all permitted re-runs.
	CellFailed CellStatus = "failed"
	// CellCancelled indicates the run was superseded mid-flight.
	CellCancelled CellStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s CellStatus) Valid() bool {
	switch s {
	case CellPending, CellRunning, CellSucceeded, CellFailed, CellCancelled:
		return true
	default:
		return false
	}
}

// MatrixCell is one concrete (python-version, database) combination of the
// test stage. Each cell is an independent execution: its result does not
// affect sibling cells.
type MatrixCell struct {
	// Python is the interpreter version, e.g. "3.10".
	Python string `json:"python"`
	// Database is the backend under test: "postgres", "mysql" or "sqlite".
	Database string `json:"database"`
	// Status is the current lifecycle state.
	Status CellStatus `json:"status"`
	// Attempts is the number of suite executions, including re-runs.
	Attempts int `json:"attempts"`
	// FailureReason records the final error for failed cells.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Key returns a stable identifier for the cell, e.g. "py3.10-postgres".
func (c MatrixCell) Key() string {
	return fmt.Sprintf("py%s-%s", c.Python, c.Database)
}
