package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the collectool command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "collectool",
		Short:         "Build and inspect resource collection files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newPackCmd(),
		newDumpCmd(),
		newPushCmd(),
	)
	return root
}
