package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtflow/pkg/cli"
	"github.com/newtron-network/newtflow/pkg/controller"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

var simShowOps bool

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay the reference scenarios against in-memory switches",
	Long: `Replay the reference scenarios against in-memory switches.

  A  a bundled-ingress device connects and receives its default rules
  B  a frame to an unknown host is flooded and its source learned
  C  the reply installs one directed priority-1 rule
  D  two scheduler ticks return the bundled pair to its starting path

Scenarios run in path-switch mode regardless of ha.mode. Without --config
and with no fabric at the default path the built-in fabric is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadFabric(true)
		if err != nil {
			return err
		}
		rep, err := simulate(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		rep.print(cmd.OutOrStdout(), simShowOps)
		if !rep.ok() {
			return errors.New("simulation failed")
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().BoolVar(&simShowOps, "ops", false, "List every operation sent to the switches")
}

var (
	hostA = net.HardwareAddr{0, 0, 0, 0, 0, 0xaa}
	hostB = net.HardwareAddr{0, 0, 0, 0, 0, 0xbb}
)

type scenario struct {
	name   string
	ok     bool
	detail string
}

type simReport struct {
	scenarios []scenario
	devices   []*openflow.Recorder
}

func (r *simReport) add(name string, err error, detail string) {
	s := scenario{name: name, ok: err == nil, detail: detail}
	if err != nil {
		s.detail = err.Error()
	}
	r.scenarios = append(r.scenarios, s)
}

func (r *simReport) ok() bool {
	for _, s := range r.scenarios {
		if !s.ok {
			return false
		}
	}
	return true
}

func (r *simReport) print(w io.Writer, ops bool) {
	for _, s := range r.scenarios {
		fmt.Fprintf(w, "%s %s  %s\n", cli.DotPad(s.name, 28), cli.Status(s.ok), cli.Dim(s.detail))
	}
	if !ops {
		return
	}
	fmt.Fprintln(w)
	t := cli.NewTableTo(w, "DPID", "OP", "DETAIL")
	for _, rec := range r.devices {
		for _, op := range rec.Ops() {
			t.Row(util.FormatDPID(rec.ID()), string(op.Kind), describeOp(op))
		}
	}
	t.Flush()
}

func describeOp(op openflow.Op) string {
	switch op.Kind {
	case openflow.OpInstallRule:
		return fmt.Sprintf("priority=%d %s actions=%s", op.Flow.Priority, op.Flow.Match, openflow.ActionsString(op.Flow.Actions))
	case openflow.OpInstallGroup:
		return fmt.Sprintf("group=%d type=%s buckets=%d", op.Group.GroupID, op.Group.Type, len(op.Group.Buckets))
	case openflow.OpSendPacket:
		return fmt.Sprintf("in_port=%d actions=%s", op.Packet.InPort, openflow.ActionsString(op.Packet.Actions))
	case openflow.OpModifyPort:
		return fmt.Sprintf("port=%d config=%#x mask=%#x", op.Port.PortNo, op.Port.Config, op.Port.Mask)
	}
	return ""
}

func ethFrame(dst, src net.HardwareAddr) []byte {
	data := make([]byte, 0, 60)
	data = append(data, dst...)
	data = append(data, src...)
	data = append(data, 0x08, 0x00)
	return append(data, make([]byte, 46)...)
}

// simulate connects every inventory device to a recorder and drives the
// reference scenarios through a fresh controller.
func simulate(ctx context.Context, cfg *fabric.Config) (*simReport, error) {
	sim := *cfg
	sim.HA.Mode = fabric.ModePathSwitch

	var bundled []uint64
	for _, d := range sim.Devices {
		if d.Role == fabric.RoleBundledIngress {
			bundled = append(bundled, d.DPID)
		}
	}
	if len(bundled) < 2 {
		return nil, fmt.Errorf("simulation needs two %s devices, fabric has %d", fabric.RoleBundledIngress, len(bundled))
	}

	ctrl := controller.New(&sim, controller.Options{})
	rep := &simReport{}
	recs := make(map[uint64]*openflow.Recorder)
	for _, d := range sim.Devices {
		rec := openflow.NewRecorder(d.DPID)
		recs[d.DPID] = rec
		rep.devices = append(rep.devices, rec)
		if err := ctrl.Handle(ctx, &openflow.ConnectEvent{Datapath: rec}); err != nil {
			return nil, fmt.Errorf("connecting %s: %w", util.FormatDPID(d.DPID), err)
		}
	}

	first := bundled[0]
	rec := recs[first]
	want := fabric.RoleBundledIngress.DefaultRules()

	rep.add("bundled default rules", func() error {
		if got := rec.Count(openflow.OpInstallRule); got != len(want) {
			return fmt.Errorf("%d rules installed, want %d", got, len(want))
		}
		for _, pr := range want {
			r, ok := ctrl.Flows().Lookup(first, controller.DefaultPriority, openflow.Match{InPort: pr.InPort})
			if !ok || r.Actions != openflow.Output(pr.OutPort).String() {
				return fmt.Errorf("in_port=%d not forwarded to %d", pr.InPort, pr.OutPort)
			}
		}
		return nil
	}(), fmt.Sprintf("%d rules on %s", len(want), util.FormatDPID(first)))

	rules := rec.Count(openflow.OpInstallRule)
	rep.add("flood unknown destination", func() error {
		err := ctrl.Handle(ctx, &openflow.PacketInEvent{
			DPID: first, InPort: 1, BufferID: openflow.NoBuffer, Data: ethFrame(hostB, hostA),
		})
		if err != nil {
			return err
		}
		outs := rec.PacketOuts()
		if len(outs) != 1 || openflow.ActionsString(outs[0].Actions) != "output:flood" {
			return fmt.Errorf("frame not flooded")
		}
		if port, ok := ctrl.Learning().Lookup(first, hostA); !ok || port != 1 {
			return fmt.Errorf("source not learned on port 1")
		}
		if rec.Count(openflow.OpInstallRule) != rules {
			return fmt.Errorf("unexpected rule installed")
		}
		return nil
	}(), hostA.String()+" learned on port 1")

	rep.add("learned destination rule", func() error {
		err := ctrl.Handle(ctx, &openflow.PacketInEvent{
			DPID: first, InPort: 2, BufferID: openflow.NoBuffer, Data: ethFrame(hostA, hostB),
		})
		if err != nil {
			return err
		}
		match := openflow.Match{InPort: 2, EthDst: hostA, EthSrc: hostB}
		if _, ok := ctrl.Flows().Lookup(first, controller.LearnedPriority, match); !ok {
			return fmt.Errorf("no priority %d rule for %s", controller.LearnedPriority, match)
		}
		if got := rec.Count(openflow.OpInstallRule) - rules; got != 1 {
			return fmt.Errorf("%d rules installed, want 1", got)
		}
		return nil
	}(), "in_port=2 → output:1")

	rep.add("path switch round trip", func() error {
		start := ctrl.PathSwitch().State()
		ctrl.PathSwitch().Tick(ctx)
		ctrl.PathSwitch().Tick(ctx)
		end := ctrl.PathSwitch().State()
		if end.ActiveA != start.ActiveA || end.NextPort != start.NextPort {
			return fmt.Errorf("next port %d after two ticks, want %d", end.NextPort, start.NextPort)
		}
		return nil
	}(), fmt.Sprintf("ports %d,%d then back", sim.PathSwitch.PortA, sim.PathSwitch.PortB))

	return rep, nil
}
