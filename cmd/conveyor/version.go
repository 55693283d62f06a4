package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the conveyor version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("conveyor %s\n", version.Get())
	},
}
