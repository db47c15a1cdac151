package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtflow/pkg/cli"
	"github.com/newtron-network/newtflow/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.newtflow/settings.json.

  config_path  fabric file used when --config is not given
  api_addr     controller API queried by show
  audit_path   audit log read by audit

Examples:
  newtflow settings show
  newtflow settings set api_addr ctl1:8080
  newtflow settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTableTo(w, "SETTING", "VALUE")
		row := func(name, value, fallback string) {
			if value == "" {
				value = cli.Dim(fallback + " (default)")
			}
			t.Row(name, value)
		}
		row("config_path", s.ConfigPath, s.GetConfigPath())
		row("api_addr", s.APIAddr, s.GetAPIAddr())
		row("audit_path", s.AuditPath, "-")
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Settings cleared")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsClearCmd)
}
