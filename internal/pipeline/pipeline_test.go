package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/conveyorci/conveyor/pkg/models"
)

func TestDefaultReleaseValidates(t *testing.T) {
	def := DefaultRelease()
	if err := def.Validate(); err != nil {
		t.Fatalf("default release pipeline invalid: %v", err)
	}
}

func TestDefaultReleaseShape(t *testing.T) {
	def := DefaultRelease()

	if len(def.Stages) != 9 {
		t.Fatalf("expected 9 stages, got %d", len(def.Stages))
	}

	testing_ := def.Stage("testing")
	if testing_ == nil {
		t.Fatal("missing testing stage")
	}
	if len(testing_.Needs) != 4 {
		t.Errorf("testing should need all four style stages, needs %v", testing_.Needs)
	}

	build := def.Stage("build-python-package")
	if build == nil || len(build.Needs) != 1 || build.Needs[0] != "testing" {
		t.Errorf("build-python-package should need testing, got %+v", build)
	}

	publish := def.Stage("pypi-publish")
	if publish == nil || publish.Condition != models.ConditionReleasePublished {
		t.Error("pypi-publish must be gated on a published release")
	}

	imageBuild := def.Stage("build-docker-image")
	if imageBuild == nil || imageBuild.Condition != models.ConditionAlways {
		t.Error("build-docker-image must always run as a validation build")
	}

	push := def.Stage("push-docker-image")
	if push == nil || push.Condition != models.ConditionReleasePublished {
		t.Error("push-docker-image must be gated on a published release")
	}
	if push != nil && (len(push.Needs) != 1 || push.Needs[0] != "build-docker-image") {
		t.Errorf("push-docker-image should need build-docker-image, needs %v", push.Needs)
	}
}

func TestValidateRejectsUnknownNeed(t *testing.T) {
	def := DefaultRelease()
	def.Stages[5].Needs = []string{"no-such-stage"}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for unknown needs target")
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	def := &Definition{
		Name: "cyclic",
		Stages: []StageDef{
			{Name: "a", Kind: models.StageCommand, Commands: []string{"true"}, Needs: []string{"b"}},
			{Name: "b", Kind: models.StageCommand, Commands: []string{"true"}, Needs: []string{"a"}},
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for dependency cycle")
	}
}

func TestValidateRejectsDuplicateStage(t *testing.T) {
	def := &Definition{
		Name: "dup",
		Stages: []StageDef{
			{Name: "style", Kind: models.StageCommand, Commands: []string{"true"}},
			{Name: "style", Kind: models.StageCommand, Commands: []string{"true"}},
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for duplicate stage name")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	doc := `
name: release
triggers:
  push:
    branches: [main]
    paths: [src/]
  release:
    actions: [published]
concurrency:
  cancel_in_flight: true
matrix:
  pythons: ["3.10"]
  databases: [sqlite]
version_file: src/byro/__init__.py
test_config: src/tests/byro.{database}.cfg
stages:
  - name: style-black
    kind: command
    commands: ["black --check ."]
  - name: testing
    kind: test-matrix
    needs: [style-black]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "conveyor.yaml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write pipeline file: %v", err)
	}

	def, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.Name != "release" {
		t.Errorf("Name = %q, want %q", def.Name, "release")
	}
	if def.Triggers.Push == nil || len(def.Triggers.Push.Paths) != 1 {
		t.Error("push trigger paths not parsed")
	}
	if !def.Concurrency.CancelInFlight {
		t.Error("cancel_in_flight not parsed")
	}
	if got := def.Stage("testing"); got == nil || got.Kind != models.StageTestMatrix {
		t.Errorf("testing stage not parsed: %+v", got)
	}
}

func TestMaterializeStagesAreIndependent(t *testing.T) {
	def := DefaultRelease()
	a := def.MaterializeStages()
	b := def.MaterializeStages()

	a[0].Status = models.StageFailed
	if b[0].Status != models.StagePending {
		t.Error("materialized stages share state between runs")
	}
}
