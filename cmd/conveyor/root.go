package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/artifact"
	"github.com/conveyorci/conveyor/internal/checkout"
	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/exec"
	"github.com/conveyorci/conveyor/internal/orchestrator"
	"github.com/conveyorci/conveyor/internal/pipeline"
	"github.com/conveyorci/conveyor/internal/pkgindex"
	"github.com/conveyorci/conveyor/internal/registry"
	"github.com/conveyorci/conveyor/internal/stage"
	"github.com/conveyorci/conveyor/internal/state"
	"github.com/conveyorci/conveyor/pkg/models"
)

var rootCmd = &cobra.Command{
	Use:   "conveyor",
	Short: "Release pipeline orchestrator",
	Long: `Conveyor turns repository events into pipeline runs.

A push, pull request, or release event is matched against pipeline
triggers; matching pipelines run their stage graph with dependency
gating, a matrixed test stage with bounded retries, and publish
stages that only fire for published releases. A newer run cancels
the in-flight run of the same pipeline and branch.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadPipeline loads the pipeline document at path, or the built-in release
// pipeline when path is empty.
func loadPipeline(path string) (*pipeline.Definition, error) {
	if path == "" {
		return pipeline.DefaultRelease(), nil
	}
	return pipeline.Load(path)
}

// openStore opens the run database under the configured data directory.
func openStore(cfg *config.Config) (*state.Store, error) {
	return state.NewStore(filepath.Join(cfg.Data.Dir, "conveyor.db"))
}

// newStageContextFactory wires the per-run execution context: checkout,
// command runner, artifact store, and the registry and index clients.
func newStageContextFactory(cfg *config.Config, store *state.Store, repo string) orchestrator.StageContextFactory {
	return func(ctx context.Context, run *models.Run) (*stage.Context, func(), error) {
		var co *checkout.Checkout
		cloned := false
		sourceRepo := ""
		if info, err := os.Stat(repo); err == nil && info.IsDir() {
			co = checkout.Local(repo)
		} else {
			var err error
			co, err = checkout.Create(ctx, repo, run.Event.Ref)
			if err != nil {
				return nil, nil, err
			}
			cloned = true
			sourceRepo = repo
		}

		arts, err := artifact.NewStore(filepath.Join(cfg.Data.Dir, "artifacts"), run.ID)
		if err != nil {
			if cloned {
				co.Remove()
			}
			return nil, nil, err
		}

		sc := &stage.Context{
			RunID:            run.ID,
			Event:            run.Event,
			Dir:              co.Dir,
			SourceRepo:       sourceRepo,
			Runner:           exec.NewExecRunner(),
			Artifacts:        arts,
			State:            store,
			PackageName:      cfg.Index.Package,
			MaxParallelCells: cfg.Runs.MaxParallelCells,
			MaxReruns:        cfg.Runs.TestReruns,
			ImageRepo:        cfg.Registry.Image,
			IdentityToken:    os.Getenv(cfg.Index.IdentityTokenEnv),
		}

		if cfg.Registry.Host != "" {
			var opts []registry.Option
			if cfg.Registry.PlainHTTP {
				opts = append(opts, registry.WithPlainHTTP())
			}
			if cfg.Registry.Username != "" {
				opts = append(opts, registry.WithStaticAuth(cfg.Registry.Username, cfg.Registry.Password))
			}
			sc.Registry = registry.NewClient(cfg.Registry.Host, opts...)
		}
		if cfg.Index.URL != "" {
			if err := pkgindex.ValidateIndexURL(cfg.Index.URL); err != nil {
				if cloned {
					co.Remove()
				}
				return nil, nil, err
			}
			sc.Index = pkgindex.NewClient(cfg.Index.URL)
		}

		cleanup := func() {
			if cloned {
				if err := co.Remove(); err != nil {
					fmt.Fprintf(os.Stderr, "remove checkout for run %s: %v\n", run.ID, err)
				}
			}
		}
		return sc, cleanup, nil
	}
}

// newPool builds the run pool from configuration.
func newPool(cfg *config.Config, store *state.Store, defs []*pipeline.Definition, repo string) *orchestrator.RunPool {
	return orchestrator.NewRunPool(orchestrator.PoolConfig{
		Pipelines:         defs,
		Store:             store,
		DataDir:           cfg.Data.Dir,
		NewStageContext:   newStageContextFactory(cfg, store, repo),
		MaxParallelStages: cfg.Runs.MaxParallelStages,
		StageTimeout:      cfg.Runs.StageTimeout,
		PollInterval:      cfg.Runs.PollInterval,
	})
}
