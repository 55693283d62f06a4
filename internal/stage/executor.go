package stage

import (
	"context"
	"fmt"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Executor runs one stage of a run to completion.
type Executor interface {
	Execute(ctx context.Context, sc *Context, st *models.Stage) error
}

// ForKind returns the executor for a stage kind.
func ForKind(kind models.StageKind) (Executor, error) {
	switch kind {
	case models.StageCommand:
		return &CommandStage{}, nil
	case models.StageTestMatrix:
		return &TestMatrixStage{}, nil
	case models.StagePackageBuild:
		return &PackageBuildStage{}, nil
	case models.StagePackagePublish:
		return &PackagePublishStage{}, nil
	case models.StageImageBuild:
		return &ImageBuildStage{}, nil
	case models.StageImagePush:
		return &ImagePushStage{}, nil
	default:
		return nil, fmt.Errorf("no executor for stage kind %q", kind)
	}
}
