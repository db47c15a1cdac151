// Package fabric describes the static wiring of the switch fabric newtflow
// manages: which datapath plays which role, the path-switch and failover
// parameters, and the mirror bindings the port-sync state machine enforces.
package fabric

import (
	"fmt"
	"time"
)

// Role is the statically configured function of a device in the fabric.
type Role string

const (
	// RoleBundledIngress devices are the functionally identical pair facing
	// the hosts; port 1 is the host port, ports 2 and 3 the uplinks.
	RoleBundledIngress Role = "bundled-ingress"
	// RoleCoreBidirectional devices relay between port 1 and port 2.
	RoleCoreBidirectional Role = "core-bidirectional"
	// RoleUnassigned is given to devices that connect without an inventory entry.
	RoleUnassigned Role = "unassigned"
)

// PortRule is a static in_port to output mapping.
type PortRule struct {
	InPort  uint32
	OutPort uint32
}

// DefaultRules returns the static forwarding table installed for the role at
// connect time.
func (r Role) DefaultRules() []PortRule {
	switch r {
	case RoleBundledIngress:
		return []PortRule{{1, 2}, {2, 1}, {3, 1}}
	case RoleCoreBidirectional:
		return []PortRule{{1, 2}, {2, 1}}
	}
	return nil
}

// Valid reports whether r may appear in the inventory.
func (r Role) Valid() bool {
	return r == RoleBundledIngress || r == RoleCoreBidirectional
}

// HAMode selects which high-availability mechanism owns in_port=1 on the
// bundled devices.
type HAMode string

const (
	ModePathSwitch   HAMode = "path-switch"
	ModeFastFailover HAMode = "fast-failover"
)

// Config is the complete fabric file.
type Config struct {
	Devices        []DeviceSpec     `yaml:"devices"`
	HA             HAConfig         `yaml:"ha"`
	PathSwitch     PathSwitchConfig `yaml:"path_switch"`
	Failover       FailoverConfig   `yaml:"failover"`
	MirrorBindings []MirrorBinding  `yaml:"mirror_bindings"`
	API            APIConfig        `yaml:"api"`
	Audit          AuditConfig      `yaml:"audit"`
	Bridge         BridgeConfig     `yaml:"bridge"`
	Log            LogConfig        `yaml:"log"`
}

// DeviceSpec is one inventory entry.
type DeviceSpec struct {
	DPID uint64 `yaml:"dpid"`
	Name string `yaml:"name,omitempty"`
	Role Role   `yaml:"role"`
}

// HAConfig selects the HA mechanism.
type HAConfig struct {
	Mode HAMode `yaml:"mode"`
}

// PathSwitchConfig parameterizes the blind egress alternation.
type PathSwitchConfig struct {
	Interval    time.Duration `yaml:"interval"`
	IngressPort uint32        `yaml:"ingress_port"`
	PortA       uint32        `yaml:"port_a"`
	PortB       uint32        `yaml:"port_b"`
	Priority    uint16        `yaml:"priority"`
	// StartWith is "a" or "b": the alternative used on the first tick.
	StartWith string `yaml:"start_with"`
}

// FailoverConfig describes the fast-failover group on bundled devices.
type FailoverConfig struct {
	GroupID     uint32       `yaml:"group_id"`
	IngressPort uint32       `yaml:"ingress_port"`
	ReturnPort  uint32       `yaml:"return_port"`
	Priority    uint16       `yaml:"priority"`
	Buckets     []BucketSpec `yaml:"buckets"`
}

// BucketSpec is one failover alternative.
type BucketSpec struct {
	WatchPort uint32 `yaml:"watch_port"`
	Output    uint32 `yaml:"output"`
}

// PortRef names a port on a device.
type PortRef struct {
	DPID uint64 `yaml:"dpid"`
	Port uint32 `yaml:"port"`
}

func (p PortRef) String() string {
	return fmt.Sprintf("%d:%d", p.DPID, p.Port)
}

// TargetRef names the mirrored port and how to find its hardware address.
type TargetRef struct {
	DPID uint64 `yaml:"dpid"`
	Port uint32 `yaml:"port"`
	// NamePrefix selects the port record by name (e.g. "s3-eth2"). When
	// empty the record is looked up by port number.
	NamePrefix string `yaml:"name_prefix,omitempty"`
}

// MirrorBinding says a link-state change on Source is mirrored as an
// administrative up/down on Target.
type MirrorBinding struct {
	Source PortRef   `yaml:"source"`
	Target TargetRef `yaml:"target"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Listen  string `yaml:"listen"`
	Metrics bool   `yaml:"metrics"`
}

// AuditConfig configures the JSON-lines audit log. An empty path disables it.
type AuditConfig struct {
	Path       string `yaml:"path,omitempty"`
	MaxSize    int64  `yaml:"max_size,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// BridgeConfig configures the Redis relay to the OpenFlow agent.
type BridgeConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
	SSH     SSHConfig   `yaml:"ssh"`
}

// RedisConfig locates the relay Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password,omitempty"`
	Prefix   string `yaml:"prefix"`
}

// SSHConfig enables an SSH port-forward to Redis on the agent host when Host is set.
type SSHConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// LogConfig sets the log level and format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the documented four-switch fabric: s1 and s2 bundled
// toward the hosts, s3 and s4 as core relays, with s3's uplink mirrored
// onto its port 2.
func Default() *Config {
	return &Config{
		Devices: []DeviceSpec{
			{DPID: 1, Name: "s1", Role: RoleBundledIngress},
			{DPID: 2, Name: "s2", Role: RoleBundledIngress},
			{DPID: 3, Name: "s3", Role: RoleCoreBidirectional},
			{DPID: 4, Name: "s4", Role: RoleCoreBidirectional},
		},
		HA: HAConfig{Mode: ModePathSwitch},
		PathSwitch: PathSwitchConfig{
			Interval:    5 * time.Second,
			IngressPort: 1,
			PortA:       3,
			PortB:       2,
			Priority:    10,
			StartWith:   "a",
		},
		Failover: FailoverConfig{
			GroupID:     100,
			IngressPort: 1,
			ReturnPort:  1,
			Priority:    10,
			Buckets: []BucketSpec{
				{WatchPort: 2, Output: 2},
				{WatchPort: 3, Output: 3},
			},
		},
		MirrorBindings: []MirrorBinding{
			{
				Source: PortRef{DPID: 3, Port: 1},
				Target: TargetRef{DPID: 3, Port: 2, NamePrefix: "s3-eth2"},
			},
		},
		API: APIConfig{Listen: ":8080", Metrics: true},
		Bridge: BridgeConfig{
			Redis: RedisConfig{Addr: "127.0.0.1:6379", Prefix: "newtflow"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Device returns the inventory entry for dpid.
func (c *Config) Device(dpid uint64) (DeviceSpec, bool) {
	for _, d := range c.Devices {
		if d.DPID == dpid {
			return d, true
		}
	}
	return DeviceSpec{}, false
}

// RoleOf returns the configured role of dpid, or RoleUnassigned.
func (c *Config) RoleOf(dpid uint64) Role {
	if d, ok := c.Device(dpid); ok {
		return d.Role
	}
	return RoleUnassigned
}

// IsMirrorSource reports whether dpid holds the source port of any mirror
// binding.
func (c *Config) IsMirrorSource(dpid uint64) bool {
	for _, b := range c.MirrorBindings {
		if b.Source.DPID == dpid {
			return true
		}
	}
	return false
}

// IsMirrorTarget reports whether dpid is the target of any mirror binding,
// meaning its port records must be queried at connect.
func (c *Config) IsMirrorTarget(dpid uint64) bool {
	for _, b := range c.MirrorBindings {
		if b.Target.DPID == dpid {
			return true
		}
	}
	return false
}
