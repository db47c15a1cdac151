// newtflow - SDN controller core for a bundled OpenFlow fabric
//
// The serve command runs the controller: MAC learning, the path-switch
// scheduler or the fast-failover group, and port-state mirroring, fed by
// an OpenFlow agent over a Redis relay. The remaining commands inspect a
// fabric file, replay the reference scenarios against in-memory switches,
// or query a running controller.
//
// Examples:
//
//	newtflow serve -c /etc/newtflow/fabric.yaml
//	newtflow simulate --ops
//	newtflow show flows 1
//	newtflow audit --last 1h --failures
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtflow/pkg/settings"
	"github.com/newtron-network/newtflow/pkg/util"
)

var (
	configPath string
	logLevel   string
	verbose    bool
	logJSON    bool
	jsonOutput bool

	userSettings *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "newtflow",
	Short:             "SDN controller core for a bundled OpenFlow fabric",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		level := logLevel
		if verbose {
			level = "debug"
		}
		if err := util.SetLogLevel(level); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		if logJSON {
			util.SetJSONFormat()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Fabric file (default from settings, then /etc/newtflow/fabric.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Controller:"},
		&cobra.Group{ID: "query", Title: "Inspection:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{serveCmd, simulateCmd} {
		cmd.GroupID = "run"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{showCmd, auditCmd} {
		cmd.GroupID = "query"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{configCmd, settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

// addOutputFlags registers --json on commands that print structured data.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
}
