package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtflow/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "newtflow", version.Info())
	},
}
