// Package stage implements the stage executors: plain command stages, the
// matrixed test stage, the package build and publish stages, and the image
// build and push stages.
package stage

import (
	"sync"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/exec"
	"github.com/conveyorci/conveyor/internal/matrix"
	"github.com/conveyorci/conveyor/internal/pkgindex"
	"github.com/conveyorci/conveyor/internal/registry"
	"github.com/conveyorci/conveyor/internal/state"
	"github.com/conveyorci/conveyor/pkg/models"
)

// Context carries everything a stage executor needs for one run. It is
// shared between the stages of the run, so cross-stage slots (the resolved
// version, the staged image) are guarded by a mutex.
type Context struct {
	RunID string
	Event models.Event

	// Dir is the root of the run's checkout.
	Dir string

	// SourceRepo is the repository URL recorded on built images. May be
	// empty for local working-tree runs.
	SourceRepo string

	Runner    exec.CommandRunner
	Artifacts *artifact.Store
	State     *state.Store

	Matrix matrix.Matrix

	// VersionFile is the package identity file stamped on release runs.
	VersionFile string

	// TestConfig is the per-database test config path template.
	TestConfig string

	// PackageName is the distribution name used for index uploads.
	PackageName string

	// MaxParallelCells bounds concurrent matrix cells. Zero means all.
	MaxParallelCells int

	// MaxReruns is how many times a failed cell is re-run after its first
	// attempt.
	MaxReruns int

	Registry  *registry.Client
	ImageRepo string

	Index *pkgindex.Client

	// IdentityToken is the OIDC token exchanged for an upload token.
	IdentityToken string

	// OnCell is invoked on every matrix cell transition. May be nil.
	OnCell func(stage string, cell *models.MatrixCell)

	mu      sync.Mutex
	version string
	image   *registry.Image
}

// SetVersion records the version resolved from the release tag.
func (c *Context) SetVersion(v string) {
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
}

// Version returns the resolved version, or "" on non-release runs.
func (c *Context) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// SetImage stashes the staged image for the push stage.
func (c *Context) SetImage(img *registry.Image) {
	c.mu.Lock()
	c.image = img
	c.mu.Unlock()
}

// Image returns the staged image, or nil if no build stage ran.
func (c *Context) Image() *registry.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// reportCell persists a cell transition and notifies the watcher.
func (c *Context) reportCell(stageName string, cell *models.MatrixCell) {
	if c.State != nil {
		// Persistence failures must not fail the cell itself.
		_ = c.State.UpsertCell(c.RunID, stageName, cell)
	}
	if c.OnCell != nil {
		c.OnCell(stageName, cell)
	}
}
