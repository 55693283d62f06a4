package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline-file>",
	Short: "Validate a pipeline file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := pipeline.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("pipeline %q is valid: %d stages, %d matrix cells\n",
			def.Name, len(def.Stages), len(def.Matrix.Expand()))
		return nil
	},
}
