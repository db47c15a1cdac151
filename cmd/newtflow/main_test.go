package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/settings"
)

func TestSimulate_DefaultFabric(t *testing.T) {
	rep, err := simulate(context.Background(), fabric.Default())
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(rep.scenarios) != 4 {
		t.Fatalf("got %d scenarios, want 4", len(rep.scenarios))
	}
	for _, s := range rep.scenarios {
		if !s.ok {
			t.Errorf("%s failed: %s", s.name, s.detail)
		}
	}
	if len(rep.devices) != 4 {
		t.Errorf("got %d recorders, want 4", len(rep.devices))
	}

	var buf bytes.Buffer
	rep.print(&buf, true)
	out := buf.String()
	for _, want := range []string{"bundled default rules", "path switch round trip", "install-rule", "eth_dst=00:00:00:00:00:aa"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulate_FailoverFabricRunsPathSwitch(t *testing.T) {
	cfg := fabric.Default()
	cfg.HA.Mode = fabric.ModeFastFailover

	rep, err := simulate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !rep.ok() {
		t.Errorf("scenarios failed: %+v", rep.scenarios)
	}
	if cfg.HA.Mode != fabric.ModeFastFailover {
		t.Error("simulate modified the caller's config")
	}
}

func TestSimulate_NeedsBundledPair(t *testing.T) {
	cfg := fabric.Default()
	cfg.Devices = cfg.Devices[1:]

	if _, err := simulate(context.Background(), cfg); err == nil {
		t.Fatal("expected error with one bundled device")
	}
}

func TestDescribeOp(t *testing.T) {
	tests := []struct {
		op   openflow.Op
		want string
	}{
		{
			openflow.Op{Kind: openflow.OpInstallRule, Flow: &openflow.FlowMod{
				Priority: 10, Match: openflow.Match{InPort: 1}, Actions: []openflow.Action{openflow.Output(3)},
			}},
			"priority=10 in_port=1 actions=output:3",
		},
		{
			openflow.Op{Kind: openflow.OpSendPacket, Packet: &openflow.PacketOut{
				InPort: 2, Actions: []openflow.Action{openflow.Output(openflow.PortFlood)},
			}},
			"in_port=2 actions=output:flood",
		},
		{
			openflow.Op{Kind: openflow.OpModifyPort, Port: &openflow.PortMod{PortNo: 2, Config: 1, Mask: 1}},
			"port=2 config=0x1 mask=0x1",
		},
		{openflow.Op{Kind: openflow.OpQueryPorts}, ""},
	}
	for _, tt := range tests {
		if got := describeOp(tt.op); got != tt.want {
			t.Errorf("describeOp(%s) = %q, want %q", tt.op.Kind, got, tt.want)
		}
	}
}

func TestRedacted(t *testing.T) {
	cfg := fabric.Default()
	cfg.Bridge.Redis.Password = "hunter2"
	cfg.Bridge.SSH.Password = "secret"

	r := redacted(cfg)
	if r.Bridge.Redis.Password != "********" || r.Bridge.SSH.Password != "********" {
		t.Errorf("passwords not masked: %+v", r.Bridge)
	}
	if cfg.Bridge.Redis.Password != "hunter2" {
		t.Error("redacted modified the original")
	}

	data, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("marshaled config leaks the password")
	}
}

func TestFabricPath(t *testing.T) {
	defer func() { configPath, userSettings = "", nil }()

	configPath, userSettings = "", nil
	if p, named := fabricPath(); p != fabric.DefaultPath || named {
		t.Errorf("fabricPath() = %q, %v", p, named)
	}

	userSettings = &settings.Settings{ConfigPath: "/srv/fabric.yaml"}
	if p, named := fabricPath(); p != "/srv/fabric.yaml" || !named {
		t.Errorf("fabricPath() = %q, %v", p, named)
	}

	configPath = "./lab.yaml"
	if p, _ := fabricPath(); p != "./lab.yaml" {
		t.Errorf("flag should win, got %q", p)
	}
}
