package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/conveyorci/conveyor/internal/pkgindex"
	"github.com/conveyorci/conveyor/internal/release"
	"github.com/conveyorci/conveyor/pkg/models"
)

// PackageBuildStage builds the wheel and source distribution. On release
// runs it first stamps the version from the tag into the identity file.
// The built distributions are validated and recorded as run artifacts.
type PackageBuildStage struct{}

func (s *PackageBuildStage) Execute(ctx context.Context, sc *Context, st *models.Stage) error {
	if sc.Event.IsPublishedRelease() {
		version, err := release.VersionFromTag(sc.Event.Tag)
		if err != nil {
			return fmt.Errorf("%s: %w", st.Name, err)
		}
		if err := release.Stamp(filepath.Join(sc.Dir, sc.VersionFile), version); err != nil {
			return fmt.Errorf("%s: %w", st.Name, err)
		}
		sc.SetVersion(version)
		if sc.State != nil {
			if err := sc.State.SetRunVersion(sc.RunID, version); err != nil {
				return fmt.Errorf("%s: %w", st.Name, err)
			}
		}
	}

	buildRoot := filepath.Join(sc.Dir, "src")
	if err := pkgindex.CheckManifest(buildRoot); err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}

	if out, err := sc.Runner.RunShell(ctx, buildRoot, nil, "python -m build"); err != nil {
		return fmt.Errorf("%s: build failed: %w\n%s", st.Name, err, out)
	}

	distDir := filepath.Join(buildRoot, "dist")
	wheel, sdist, err := pkgindex.CheckDistributions(distDir)
	if err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}

	if out, err := sc.Runner.RunShell(ctx, buildRoot, nil, "python -m twine check dist/*"); err != nil {
		return fmt.Errorf("%s: distribution check failed: %w\n%s", st.Name, err, out)
	}

	if sc.Artifacts != nil {
		for _, path := range []string{wheel, sdist} {
			if _, err := sc.Artifacts.Add(filepath.Base(path), path); err != nil {
				return fmt.Errorf("%s: %w", st.Name, err)
			}
		}
		if err := sc.Artifacts.WriteManifest(sc.RunID, sc.Version()); err != nil {
			return fmt.Errorf("%s: %w", st.Name, err)
		}
	}
	return nil
}

// PackagePublishStage uploads the built distributions to the package index
// using a token minted through trusted publishing.
type PackagePublishStage struct{}

func (s *PackagePublishStage) Execute(ctx context.Context, sc *Context, st *models.Stage) error {
	if sc.Index == nil {
		return fmt.Errorf("%s: no package index configured", st.Name)
	}
	if sc.IdentityToken == "" {
		return fmt.Errorf("%s: no identity token available", st.Name)
	}
	version := sc.Version()
	if version == "" {
		return fmt.Errorf("%s: no version resolved; publish requires a release build", st.Name)
	}

	token, err := sc.Index.MintToken(ctx, sc.IdentityToken)
	if err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}

	arts := sc.Artifacts.List()
	if len(arts) == 0 {
		return fmt.Errorf("%s: no distributions to publish", st.Name)
	}
	for _, art := range arts {
		if err := sc.Index.Upload(ctx, token, sc.PackageName, version, art.Path); err != nil {
			return fmt.Errorf("%s: %w", st.Name, err)
		}
	}
	return nil
}
