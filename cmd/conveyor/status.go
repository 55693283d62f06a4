package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/state"
	"github.com/conveyorci/conveyor/pkg/models"
)

var (
	statusLimit int
	statusRunID string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and their stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if statusRunID != "" {
			return printRunDetail(store, statusRunID)
		}
		return printRunList(store, statusLimit)
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "number of runs to list")
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "show stages and matrix cells of one run")
}

func printRunList(store *state.Store, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %-10s %-20s %-14s %s\n",
			run.ID, colorRunStatus(run.Status), run.Pipeline,
			describeEvent(run.Event), describeTiming(run))
	}
	return nil
}

func printRunDetail(store *state.Store, runID string) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s  %s\n", run.ID, colorRunStatus(run.Status))
	fmt.Printf("  pipeline: %s\n", run.Pipeline)
	fmt.Printf("  event:    %s\n", describeEvent(run.Event))
	fmt.Printf("  group:    %s\n", run.Group)
	if run.Version != "" {
		fmt.Printf("  version:  %s\n", run.Version)
	}
	fmt.Printf("  %s\n\n", describeTiming(run))

	stages, err := store.ListStages(runID)
	if err != nil {
		return err
	}
	for _, st := range stages {
		line := fmt.Sprintf("  %-24s %s", st.Name, colorStageStatus(st.Status))
		if st.BlockedReason != "" {
			line += "  " + color.New(color.Faint).Sprint(st.BlockedReason)
		}
		fmt.Println(line)

		cells, err := store.ListCells(runID, st.Name)
		if err != nil {
			return err
		}
		for _, cell := range cells {
			fmt.Printf("      %-20s %s  attempts=%d\n",
				cell.Key(), colorCellStatus(cell.Status), cell.Attempts)
			if cell.FailureReason != "" {
				fmt.Printf("        %s\n", color.New(color.Faint).Sprint(cell.FailureReason))
			}
		}
	}
	return nil
}

func describeEvent(ev models.Event) string {
	switch ev.Type {
	case models.EventRelease:
		return fmt.Sprintf("release %s %s", ev.Action, ev.Tag)
	default:
		return fmt.Sprintf("%s %s", ev.Type, ev.Branch)
	}
}

func describeTiming(run *models.Run) string {
	age := time.Since(run.CreatedAt).Round(time.Second)
	if run.FinishedAt == nil {
		return fmt.Sprintf("started %s ago", age)
	}
	took := run.FinishedAt.Sub(run.CreatedAt).Round(time.Second)
	return fmt.Sprintf("%s ago, took %s", age, took)
}

func colorRunStatus(status models.RunStatus) string {
	switch status {
	case models.RunSucceeded:
		return color.GreenString(string(status))
	case models.RunFailed:
		return color.RedString(string(status))
	case models.RunRunning:
		return color.YellowString(string(status))
	case models.RunCancelled:
		return color.New(color.Faint).Sprint(string(status))
	default:
		return string(status)
	}
}

func colorStageStatus(status models.StageStatus) string {
	switch status {
	case models.StageSucceeded:
		return color.GreenString(string(status))
	case models.StageFailed, models.StageBlocked:
		return color.RedString(string(status))
	case models.StageRunning:
		return color.YellowString(string(status))
	case models.StageSkipped, models.StageCancelled:
		return color.New(color.Faint).Sprint(string(status))
	default:
		return string(status)
	}
}

func colorCellStatus(status models.CellStatus) string {
	switch status {
	case models.CellSucceeded:
		return color.GreenString(string(status))
	case models.CellFailed:
		return color.RedString(string(status))
	case models.CellRunning:
		return color.YellowString(string(status))
	default:
		return color.New(color.Faint).Sprint(string(status))
	}
}
