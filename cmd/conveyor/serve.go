package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/pipeline"
	"github.com/conveyorci/conveyor/internal/trigger"
	"github.com/conveyorci/conveyor/pkg/models"
)

var (
	servePipelineFiles []string
	serveRepo          string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the event spool and run pipelines for incoming events",
	Long: `Serve watches the spool directory for event files. Each *.json
document is parsed, matched against the loaded pipelines, and turned into
runs. A newer run cancels the in-flight run of the same pipeline and
branch when the pipeline declares cancel_in_flight.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var defs []*pipeline.Definition
		if len(servePipelineFiles) == 0 {
			defs = append(defs, pipeline.DefaultRelease())
		}
		for _, path := range servePipelineFiles {
			def, err := pipeline.Load(path)
			if err != nil {
				return err
			}
			defs = append(defs, def)
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if cfg.Runs.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.Runs.RetentionDays)
			if purged, err := store.PurgeOldRuns(cutoff); err != nil {
				fmt.Fprintf(os.Stderr, "purge old runs: %v\n", err)
			} else if purged > 0 {
				fmt.Printf("purged %d runs older than %d days\n", purged, cfg.Runs.RetentionDays)
			}
		}

		pool := newPool(cfg, store, defs, serveRepo)

		go func() {
			for ev := range pool.Events() {
				printEvent(ev)
			}
		}()

		spool := trigger.NewSpool(cfg.Data.SpoolDir, func(ev models.Event) {
			started, err := pool.Submit(ev)
			if err != nil {
				fmt.Fprintf(os.Stderr, "submit event: %v\n", err)
				return
			}
			for _, id := range started {
				fmt.Printf("started run %s for %s event\n", id, ev.Type)
			}
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("watching %s for events (%d pipelines loaded)\n", cfg.Data.SpoolDir, len(defs))
		err = spool.Watch(ctx)
		if stopErr := pool.Stop(); stopErr != nil {
			return stopErr
		}
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringSliceVarP(&servePipelineFiles, "pipeline", "p", nil, "pipeline files to serve (default: built-in release pipeline)")
	serveCmd.Flags().StringVarP(&serveRepo, "repo", "r", ".", "repository to run against (local path or clone URL)")
}
