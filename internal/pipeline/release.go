package pipeline

import (
	"github.com/conveyorci/conveyor/internal/matrix"
	"github.com/conveyorci/conveyor/internal/trigger"
	"github.com/conveyorci/conveyor/pkg/models"
)

// DefaultRelease returns the built-in release pipeline: four independent
// style stages, the matrixed test stage gated on all of them, the package
// build gated on testing, and the publish fan-out gated on the build.
//
// The image build always runs as a validation build; only the push stages
// carry the release-published condition.
func DefaultRelease() *Definition {
	return &Definition{
		Name: "release",
		Triggers: trigger.Filter{
			Push:        &trigger.Rule{Branches: []string{"main"}, Paths: []string{"src/"}},
			PullRequest: &trigger.Rule{Branches: []string{"main"}, Paths: []string{"src/"}},
			Release:     &trigger.Rule{Actions: []string{models.ReleasePublished}},
		},
		Concurrency: Concurrency{CancelInFlight: true},
		Matrix:      matrix.Default(),
		VersionFile: "src/byro/__init__.py",
		TestConfig:  "src/tests/byro.{database}.cfg",
		Stages: []StageDef{
			{
				Name:     "style-isort",
				Kind:     models.StageCommand,
				Commands: []string{"isort --check-only --diff ."},
			},
			{
				Name:     "style-flake8",
				Kind:     models.StageCommand,
				Commands: []string{"flake8 ."},
			},
			{
				Name:     "style-black",
				Kind:     models.StageCommand,
				Commands: []string{"black --check ."},
			},
			{
				Name:     "style-djhtml",
				Kind:     models.StageCommand,
				Commands: []string{"djhtml --check src/byro/templates"},
			},
			{
				Name:  "testing",
				Kind:  models.StageTestMatrix,
				Needs: []string{"style-isort", "style-flake8", "style-black", "style-djhtml"},
			},
			{
				Name:  "build-python-package",
				Kind:  models.StagePackageBuild,
				Needs: []string{"testing"},
			},
			{
				Name:      "pypi-publish",
				Kind:      models.StagePackagePublish,
				Needs:     []string{"build-python-package"},
				Condition: models.ConditionReleasePublished,
			},
			{
				Name:  "build-docker-image",
				Kind:  models.StageImageBuild,
				Needs: []string{"build-python-package"},
			},
			{
				Name:      "push-docker-image",
				Kind:      models.StageImagePush,
				Needs:     []string{"build-docker-image"},
				Condition: models.ConditionReleasePublished,
			},
		},
	}
}
