package fabric

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtflow/pkg/util"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestRoleDefaultRules(t *testing.T) {
	tests := []struct {
		role Role
		want []PortRule
	}{
		{RoleBundledIngress, []PortRule{{1, 2}, {2, 1}, {3, 1}}},
		{RoleCoreBidirectional, []PortRule{{1, 2}, {2, 1}}},
		{RoleUnassigned, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			got := tt.role.DefaultRules()
			if len(got) != len(tt.want) {
				t.Fatalf("len(DefaultRules) = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("rule[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabric.yaml")
	data := `
devices:
  - dpid: 10
    role: bundled-ingress
  - dpid: 11
    name: edge-b
    role: bundled-ingress
  - dpid: 20
    role: core-bidirectional
ha:
  mode: fast-failover
path_switch:
  interval: 250ms
mirror_bindings:
  - source: {dpid: 20, port: 1}
    target: {dpid: 20, port: 2}
bridge:
  enabled: true
  ssh:
    host: agent.lab
    user: admin
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Devices) != 3 {
		t.Fatalf("len(Devices) = %d, want 3", len(cfg.Devices))
	}
	if cfg.Devices[0].Name != "s10" {
		t.Errorf("default name = %q, want %q", cfg.Devices[0].Name, "s10")
	}
	if cfg.Devices[1].Name != "edge-b" {
		t.Errorf("Name = %q, want %q", cfg.Devices[1].Name, "edge-b")
	}
	if cfg.HA.Mode != ModeFastFailover {
		t.Errorf("HA.Mode = %q", cfg.HA.Mode)
	}
	if cfg.PathSwitch.Interval != 250*time.Millisecond {
		t.Errorf("Interval = %v, want 250ms", cfg.PathSwitch.Interval)
	}
	// Untouched keys keep their defaults.
	if cfg.PathSwitch.PortA != 3 || cfg.Failover.GroupID != 100 {
		t.Errorf("defaults lost: port_a=%d group_id=%d", cfg.PathSwitch.PortA, cfg.Failover.GroupID)
	}
	if cfg.Bridge.SSH.Port != 22 {
		t.Errorf("SSH.Port = %d, want 22", cfg.Bridge.SSH.Port)
	}
	if got := cfg.RoleOf(20); got != RoleCoreBidirectional {
		t.Errorf("RoleOf(20) = %q", got)
	}
	if got := cfg.RoleOf(99); got != RoleUnassigned {
		t.Errorf("RoleOf(99) = %q, want unassigned", got)
	}
	if !cfg.IsMirrorTarget(20) || cfg.IsMirrorTarget(10) {
		t.Error("IsMirrorTarget mismatch")
	}
	if !cfg.IsMirrorSource(20) || cfg.IsMirrorSource(10) {
		t.Error("IsMirrorSource mismatch")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "duplicate dpid",
			yaml: "devices:\n  - {dpid: 1, role: bundled-ingress}\n  - {dpid: 1, role: core-bidirectional}\nmirror_bindings: []\n",
			want: "duplicate dpid",
		},
		{
			name: "unknown role",
			yaml: "devices:\n  - {dpid: 1, role: spine}\nmirror_bindings: []\n",
			want: `unknown role "spine"`,
		},
		{
			name: "bad mode",
			yaml: "ha: {mode: active-active}\n",
			want: "ha.mode",
		},
		{
			name: "same path ports",
			yaml: "path_switch: {port_a: 2, port_b: 2}\n",
			want: "must differ",
		},
		{
			name: "overlapping watch ports",
			yaml: "failover:\n  buckets:\n    - {watch_port: 2, output: 2}\n    - {watch_port: 2, output: 3}\n",
			want: "watched by another bucket",
		},
		{
			name: "binding to unknown device",
			yaml: "mirror_bindings:\n  - source: {dpid: 3, port: 1}\n    target: {dpid: 9, port: 2}\n",
			want: "target device 9 not in inventory",
		},
		{
			name: "bridge without addr",
			yaml: "bridge: {enabled: true, redis: {addr: \"\"}}\n",
			want: "bridge.redis.addr",
		},
		{
			name: "bad log level",
			yaml: "log: {level: chatty}\n",
			want: "log.level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, util.ErrInvalidConfig) || !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error should wrap ErrInvalidConfig and ErrValidationFailed: %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("devices: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal(Default())): %v", err)
	}
	if cfg.PathSwitch.Interval != 5*time.Second {
		t.Errorf("Interval = %v after round trip", cfg.PathSwitch.Interval)
	}
}
