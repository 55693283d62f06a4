// Package pipeline defines the pipeline document: triggers, concurrency
// policy, the test matrix, and the stage list with its dependency edges.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conveyorci/conveyor/internal/graph"
	"github.com/conveyorci/conveyor/internal/matrix"
	"github.com/conveyorci/conveyor/internal/trigger"
	"github.com/conveyorci/conveyor/pkg/models"
)

// Concurrency declares the cancellation policy for runs of this pipeline.
type Concurrency struct {
	// CancelInFlight cancels the in-flight run of the same group when a
	// newer run is submitted.
	CancelInFlight bool `yaml:"cancel_in_flight"`
}

// StageDef is one stage as declared in the pipeline document.
type StageDef struct {
	Name      string                `yaml:"name"`
	Kind      models.StageKind      `yaml:"kind"`
	Needs     []string              `yaml:"needs,omitempty"`
	Commands  []string              `yaml:"commands,omitempty"`
	Condition models.StageCondition `yaml:"condition,omitempty"`
}

// Definition is a complete pipeline document.
type Definition struct {
	Name        string         `yaml:"name"`
	Triggers    trigger.Filter `yaml:"triggers"`
	Concurrency Concurrency    `yaml:"concurrency"`
	Matrix      matrix.Matrix  `yaml:"matrix"`

	// VersionFile is the package identity file whose version assignment is
	// rewritten from the release tag before build and image tagging.
	VersionFile string `yaml:"version_file"`

	// TestConfig is the per-database test configuration path template;
	// "{database}" is replaced with the cell's database name.
	TestConfig string `yaml:"test_config"`

	Stages []StageDef `yaml:"stages"`
}

// Load reads and validates a pipeline document from disk.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("parse pipeline file %s: %w", path, err)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", path, err)
	}
	return def, nil
}

// Validate checks stage names, kinds, dependency references, matrix axes,
// and the absence of dependency cycles.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("pipeline has no name")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("pipeline declares no stages")
	}

	seen := make(map[string]bool, len(d.Stages))
	hasMatrix := false
	for _, st := range d.Stages {
		if st.Name == "" {
			return fmt.Errorf("stage with empty name")
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage name %q", st.Name)
		}
		seen[st.Name] = true

		if !st.Kind.Valid() {
			return fmt.Errorf("stage %s: unknown kind %q", st.Name, st.Kind)
		}
		if st.Kind == models.StageCommand && len(st.Commands) == 0 {
			return fmt.Errorf("stage %s: command stage declares no commands", st.Name)
		}
		if st.Kind == models.StageTestMatrix {
			hasMatrix = true
		}

		switch st.Condition {
		case models.ConditionAlways, models.ConditionReleasePublished:
		default:
			return fmt.Errorf("stage %s: unknown condition %q", st.Name, st.Condition)
		}
	}

	for _, st := range d.Stages {
		for _, dep := range st.Needs {
			if !seen[dep] {
				return fmt.Errorf("stage %s needs unknown stage %q", st.Name, dep)
			}
		}
	}

	if hasMatrix {
		if err := d.Matrix.Validate(); err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
	}

	// Cycle check via the same graph the orchestrator executes.
	g := graph.New()
	if err := g.Build(d.MaterializeStages()); err != nil {
		return err
	}

	return nil
}

// MaterializeStages converts stage definitions into fresh runtime stages,
// one set per run.
func (d *Definition) MaterializeStages() []*models.Stage {
	stages := make([]*models.Stage, 0, len(d.Stages))
	for _, sd := range d.Stages {
		stages = append(stages, &models.Stage{
			Name:      sd.Name,
			Kind:      sd.Kind,
			Needs:     append([]string(nil), sd.Needs...),
			Commands:  append([]string(nil), sd.Commands...),
			Condition: sd.Condition,
			Status:    models.StagePending,
		})
	}
	return stages
}

// Stage returns the definition of the named stage, or nil.
func (d *Definition) Stage(name string) *StageDef {
	for i := range d.Stages {
		if d.Stages[i].Name == name {
			return &d.Stages[i]
		}
	}
	return nil
}
