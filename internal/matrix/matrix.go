// Package matrix expands the (python-version × database) test matrix and
// applies the declared exclusion set.
package matrix

import (
	"fmt"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Exclusion names one (python, database) pair that must never execute.
type Exclusion struct {
	Python   string `yaml:"python"`
	Database string `yaml:"database"`
}

// Matrix declares the axes of the test stage and the pairs excluded from it.
// FailFast is carried for completeness but the executor treats cells as
// independent regardless; the release pipeline declares it false.
type Matrix struct {
	Pythons   []string    `yaml:"pythons"`
	Databases []string    `yaml:"databases"`
	Exclude   []Exclusion `yaml:"exclude,omitempty"`
	FailFast  bool        `yaml:"fail_fast"`
}

// Default returns the release pipeline's matrix: pythons 3.9/3.10/3.11
// crossed with postgres/mysql/sqlite, with mysql and sqlite tested on 3.10
// only. By elimination, 3.10 pairs with every database and 3.9/3.11 pair
// only with postgres.
func Default() Matrix {
	return Matrix{
		Pythons:   []string{"3.9", "3.10", "3.11"},
		Databases: []string{"postgres", "mysql", "sqlite"},
		Exclude: []Exclusion{
			{Python: "3.9", Database: "mysql"},
			{Python: "3.11", Database: "mysql"},
			{Python: "3.9", Database: "sqlite"},
			{Python: "3.11", Database: "sqlite"},
		},
		FailFast: false,
	}
}

// Excluded reports whether the given pair is in the exclusion set.
func (m Matrix) Excluded(python, database string) bool {
	for _, ex := range m.Exclude {
		if ex.Python == python && ex.Database == database {
			return true
		}
	}
	return false
}

// Expand returns one cell per non-excluded (python, database) pair, in
// declaration order. Excluded pairs are never materialized.
func (m Matrix) Expand() []*models.MatrixCell {
	var cells []*models.MatrixCell
	for _, py := range m.Pythons {
		for _, db := range m.Databases {
			if m.Excluded(py, db) {
				continue
			}
			cells = append(cells, &models.MatrixCell{
				Python:   py,
				Database: db,
				Status:   models.CellPending,
			})
		}
	}
	return cells
}

// Validate checks that both axes are non-empty and that every exclusion
// references declared axis values.
func (m Matrix) Validate() error {
	if len(m.Pythons) == 0 {
		return fmt.Errorf("matrix declares no python versions")
	}
	if len(m.Databases) == 0 {
		return fmt.Errorf("matrix declares no databases")
	}

	onAxis := func(values []string, v string) bool {
		for _, x := range values {
			if x == v {
				return true
			}
		}
		return false
	}

	for _, ex := range m.Exclude {
		if !onAxis(m.Pythons, ex.Python) {
			return fmt.Errorf("exclusion references unknown python version %q", ex.Python)
		}
		if !onAxis(m.Databases, ex.Database) {
			return fmt.Errorf("exclusion references unknown database %q", ex.Database)
		}
	}
	return nil
}
