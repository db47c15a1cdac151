package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtflow/pkg/api"
	"github.com/newtron-network/newtflow/pkg/cli"
	"github.com/newtron-network/newtflow/pkg/settings"
)

var apiAddr string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Query a running controller",
	Long: `Query a running controller over its HTTP API.

The address comes from --api, then the api_addr setting, then
127.0.0.1:8080.

Examples:
  newtflow show devices
  newtflow show macs 1
  newtflow show flows 0000000000000003 --json`,
}

func client() *api.Client {
	addr := apiAddr
	if addr == "" {
		if userSettings != nil {
			addr = userSettings.GetAPIAddr()
		} else {
			addr = settings.DefaultAPIAddr
		}
	}
	return api.NewClient(addr)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

var showDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := client().Devices(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), devs)
		}
		t := cli.NewTableTo(cmd.OutOrStdout(), "DPID", "NAME", "ROLE", "RULES", "LEARNED", "FAILOVER", "CONNECTED").WithEmpty("No devices connected")
		for _, d := range devs {
			ff := "-"
			if d.FailoverInstalled {
				ff = cli.Green("installed")
			}
			t.Row(d.DPID, d.Name, string(d.Role), strconv.Itoa(d.Rules), strconv.Itoa(d.Learned), ff, since(d.ConnectedAt))
		}
		t.Flush()
		return nil
	},
}

var showMACsCmd = &cobra.Command{
	Use:   "macs <dpid>",
	Short: "Show the learned addresses of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		macs, err := client().MACs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), macs)
		}
		t := cli.NewTableTo(cmd.OutOrStdout(), "MAC", "PORT").WithEmpty("No learned addresses")
		for _, m := range macs {
			t.Row(m.MAC, strconv.FormatUint(uint64(m.Port), 10))
		}
		t.Flush()
		return nil
	},
}

var showFlowsCmd = &cobra.Command{
	Use:   "flows <dpid>",
	Short: "Show the rules installed on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := client().Flows(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rules)
		}
		t := cli.NewTableTo(cmd.OutOrStdout(), "PRIORITY", "MATCH", "ACTIONS", "KIND", "INSTALLED").WithEmpty("No rules installed")
		for _, r := range rules {
			t.Row(strconv.Itoa(int(r.Priority)), r.Match, r.Actions, string(r.Kind), since(r.InstalledAt))
		}
		t.Flush()
		return nil
	},
}

var showPortsCmd = &cobra.Command{
	Use:   "ports <dpid>",
	Short: "Show the port records of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := client().Ports(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ports)
		}
		t := cli.NewTableTo(cmd.OutOrStdout(), "PORT", "NAME", "HWADDR", "LINK").WithEmpty("No port descriptions received")
		for _, p := range ports {
			link := "up"
			if p.LinkDown {
				link = "down"
			}
			t.Row(strconv.FormatUint(uint64(p.PortNo), 10), p.Name, p.HWAddr, cli.LinkState(link))
		}
		t.Flush()
		return nil
	},
}

var showPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the path-switch scheduler state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := client().Path(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, p)
		}
		active := "b"
		if p.ActiveA {
			active = "a"
		}
		fmt.Fprintf(w, "%s %s\n", cli.DotPad("mode", 16), p.Mode)
		fmt.Fprintf(w, "%s %s\n", cli.DotPad("next path", 16), fmt.Sprintf("%s (port %d)", active, p.NextPort))
		if p.LastPort != 0 {
			fmt.Fprintf(w, "%s %d\n", cli.DotPad("last port", 16), p.LastPort)
		}
		fmt.Fprintf(w, "%s %d\n", cli.DotPad("ticks", 16), p.Ticks)
		fmt.Fprintf(w, "%s %s\n", cli.DotPad("last swap", 16), since(p.LastSwap))
		return nil
	},
}

var showPortSyncCmd = &cobra.Command{
	Use:   "portsync",
	Short: "Show mirror binding states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		states, err := client().PortSync(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), states)
		}
		t := cli.NewTableTo(cmd.OutOrStdout(), "SOURCE", "TARGET", "STATE", "CHANGED", "ERROR").WithEmpty("No mirror bindings")
		for _, s := range states {
			target := fmt.Sprintf("%d:%d", s.Target.DPID, s.Target.Port)
			if s.Target.NamePrefix != "" {
				target += " (" + s.Target.NamePrefix + ")"
			}
			errText := "-"
			if s.LastError != "" {
				errText = cli.Red(s.LastError)
			}
			t.Row(s.Source.String(), target, cli.LinkState(string(s.State)), since(s.LastChange), errText)
		}
		t.Flush()
		return nil
	},
}

func init() {
	showCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Controller API address")
	for _, cmd := range []*cobra.Command{showDevicesCmd, showMACsCmd, showFlowsCmd, showPortsCmd, showPathCmd, showPortSyncCmd} {
		addOutputFlags(cmd)
		showCmd.AddCommand(cmd)
	}
}
