package stage

import (
	"context"
	"fmt"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/conveyorci/conveyor/internal/registry"
	"github.com/conveyorci/conveyor/pkg/models"
)

// ImageBuildStage assembles the container image and stages it in memory. It
// runs on every run; non-release runs get a host-platform validation build,
// release runs the full multi-platform set. Only the push stage touches the
// registry.
type ImageBuildStage struct{}

func (s *ImageBuildStage) Execute(ctx context.Context, sc *Context, st *models.Stage) error {
	meta := registry.Metadata{
		Repository: sc.SourceRepo,
		Revision:   sc.Event.Ref,
		Version:    sc.Version(),
		RefName:    sc.Event.Tag,
		Created:    time.Now().UTC(),
	}
	if meta.RefName == "" {
		meta.RefName = sc.Event.Branch
	}

	platforms := []ocispec.Platform{registry.HostPlatform()}
	if sc.Event.IsPublishedRelease() {
		platforms = registry.DefaultPlatforms
	}

	img, err := registry.Assemble(ctx, sc.Dir, meta, platforms)
	if err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}
	sc.SetImage(img)
	return nil
}

// ImagePushStage pushes the staged multi-platform image under the version,
// major.minor, and latest tags.
type ImagePushStage struct{}

func (s *ImagePushStage) Execute(ctx context.Context, sc *Context, st *models.Stage) error {
	if sc.Registry == nil {
		return fmt.Errorf("%s: no registry configured", st.Name)
	}
	img := sc.Image()
	if img == nil {
		return fmt.Errorf("%s: no staged image; the build stage must run first", st.Name)
	}
	version := sc.Version()
	if version == "" {
		return fmt.Errorf("%s: no version resolved; push requires a release build", st.Name)
	}

	tags, err := registry.Tags(version)
	if err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}
	if err := sc.Registry.Push(ctx, img, sc.ImageRepo, tags); err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}
	return nil
}
