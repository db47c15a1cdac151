package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtflow/pkg/api"
	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/cli"
	"github.com/newtron-network/newtflow/pkg/util"
)

var (
	auditFile     string
	auditDevice   string
	auditOp       string
	auditLast     string
	auditLimit    int
	auditFailures bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log",
	Long: `View fabric changes recorded by serve: device connects and
disconnects, failover installs, path swaps and port-sync actions.

The log is --file, else the audit_path setting, else audit.path of the
fabric file.

Examples:
  newtflow audit --device 1
  newtflow audit --op path.swap --last 1h
  newtflow audit --failures`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := auditLogPath()
		if err != nil {
			return err
		}

		filter := audit.Filter{
			Operation:   auditOp,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}
		if auditDevice != "" {
			dpid, err := api.ParseDPID(auditDevice)
			if err != nil {
				return fmt.Errorf("invalid device %q: %w", auditDevice, err)
			}
			filter.Device = util.FormatDPID(dpid)
		}
		if auditLast != "" {
			d, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		events, err := audit.ReadFile(path, filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(w, "No audit events found")
			return nil
		}

		t := cli.NewTableTo(w, "TIMESTAMP", "DEVICE", "OPERATION", "PORT", "STATUS", "DETAIL")
		for _, ev := range events {
			status := cli.Green("ok")
			detail := ev.Detail
			if !ev.Success {
				status = cli.Red("failed")
				detail = ev.Error
			}
			port := "-"
			if ev.Port != 0 {
				port = fmt.Sprint(ev.Port)
			}
			t.Row(ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Device, ev.Operation, port, status, detail)
		}
		t.Flush()
		return nil
	},
}

func auditLogPath() (string, error) {
	if auditFile != "" {
		return auditFile, nil
	}
	if userSettings != nil && userSettings.AuditPath != "" {
		return userSettings.AuditPath, nil
	}
	cfg, _, err := loadFabric(true)
	if err == nil && cfg.Audit.Path != "" {
		return cfg.Audit.Path, nil
	}
	return "", fmt.Errorf("no audit log configured: use --file or 'newtflow settings set audit_path <path>'")
}

func init() {
	auditCmd.Flags().StringVar(&auditFile, "file", "", "Audit log file")
	auditCmd.Flags().StringVar(&auditDevice, "device", "", "Filter by datapath id")
	auditCmd.Flags().StringVar(&auditOp, "op", "", "Filter by operation (e.g. path.swap)")
	auditCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g. 30m, 24h)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed operations")
	addOutputFlags(auditCmd)
}
