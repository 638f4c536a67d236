// Package cli implements the stride command tree. The binary is the
// operational entry point for deployments that run the coordinator or a
// per-group dispatch daemon as separate processes; applications embedding
// stride as a library wire the engine themselves.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "stride",
	Short: "Step engine coordinator and dispatch daemon",
	Long: `Stride persists trading-bot work as steps and drives them through a
guarded lifecycle. This binary runs the scheduling side: the coordinator
that scans for groups with due work, or a dispatch daemon pinned to one
group.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(coordinateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stride %s\n", Version)
	},
}
