package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtflow/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the fabric file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective fabric with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadFabric(true)
		if err != nil {
			return err
		}
		data, err := redacted(cfg).Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the fabric file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadFabric(false)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d devices, %s, %d mirror bindings)\n",
			cli.DotPad(path, 40), cli.Status(true), len(cfg.Devices), cfg.HA.Mode, len(cfg.MirrorBindings))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
}
