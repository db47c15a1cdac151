package fabric

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtflow/pkg/util"
)

// DefaultPath is where serve looks for the fabric file when neither a flag
// nor a user setting names one.
const DefaultPath = "/etc/newtflow/fabric.yaml"

// Load reads a YAML fabric file over the built-in defaults and validates it.
// Keys absent from the file keep their default; lists present in the file
// replace the default list entirely.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fabric %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates fabric YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing fabric: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Marshal renders the config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func applyDefaults(c *Config) {
	for i := range c.Devices {
		if c.Devices[i].Name == "" {
			c.Devices[i].Name = fmt.Sprintf("s%d", c.Devices[i].DPID)
		}
	}
	if c.Bridge.SSH.Host != "" && c.Bridge.SSH.Port == 0 {
		c.Bridge.SSH.Port = 22
	}
	if c.Audit.Path != "" && c.Audit.MaxBackups == 0 {
		c.Audit.MaxBackups = 5
	}
}

// Validate checks the config for internal consistency.
func (c *Config) Validate() error {
	var v util.ValidationBuilder

	seen := make(map[uint64]bool)
	for _, d := range c.Devices {
		if d.DPID == 0 {
			v.AddErrorf("device %q: dpid must be non-zero", d.Name)
			continue
		}
		if seen[d.DPID] {
			v.AddErrorf("device %d: duplicate dpid", d.DPID)
		}
		seen[d.DPID] = true
		v.Add(d.Role.Valid(), fmt.Sprintf("device %d: unknown role %q", d.DPID, d.Role))
	}

	v.Add(c.HA.Mode == ModePathSwitch || c.HA.Mode == ModeFastFailover,
		fmt.Sprintf("ha.mode: must be %q or %q, got %q", ModePathSwitch, ModeFastFailover, c.HA.Mode))

	ps := c.PathSwitch
	v.Add(ps.Interval > 0, "path_switch.interval: must be positive")
	v.Add(ps.IngressPort != 0, "path_switch.ingress_port: must be non-zero")
	v.Add(ps.PortA != 0 && ps.PortB != 0, "path_switch: port_a and port_b must be non-zero")
	v.Add(ps.PortA != ps.PortB, "path_switch: port_a and port_b must differ")
	v.Add(ps.StartWith == "a" || ps.StartWith == "b",
		fmt.Sprintf("path_switch.start_with: must be \"a\" or \"b\", got %q", ps.StartWith))

	fo := c.Failover
	v.Add(fo.GroupID != 0, "failover.group_id: must be non-zero")
	v.Add(len(fo.Buckets) > 0, "failover.buckets: at least one bucket required")
	watched := make(map[uint32]bool)
	for i, b := range fo.Buckets {
		if b.WatchPort == 0 {
			v.AddErrorf("failover.buckets[%d]: watch_port must be non-zero", i)
		}
		if watched[b.WatchPort] {
			v.AddErrorf("failover.buckets[%d]: watch_port %d is watched by another bucket", i, b.WatchPort)
		}
		watched[b.WatchPort] = true
	}
	v.Add(!watched[fo.ReturnPort], fmt.Sprintf("failover.return_port %d is also a watch port", fo.ReturnPort))
	v.Add(!watched[fo.IngressPort], fmt.Sprintf("failover.ingress_port %d is also a watch port", fo.IngressPort))

	sources := make(map[PortRef]bool)
	for i, b := range c.MirrorBindings {
		if !seen[b.Source.DPID] {
			v.AddErrorf("mirror_bindings[%d]: source device %d not in inventory", i, b.Source.DPID)
		}
		if !seen[b.Target.DPID] {
			v.AddErrorf("mirror_bindings[%d]: target device %d not in inventory", i, b.Target.DPID)
		}
		v.Add(b.Source.Port != 0 && b.Target.Port != 0,
			fmt.Sprintf("mirror_bindings[%d]: ports must be non-zero", i))
		if sources[b.Source] {
			v.AddErrorf("mirror_bindings[%d]: source %s bound twice", i, b.Source)
		}
		sources[b.Source] = true
	}

	if c.Bridge.Enabled {
		v.Add(c.Bridge.Redis.Addr != "", "bridge.redis.addr: required when bridge is enabled")
		v.Add(c.Bridge.Redis.Prefix != "", "bridge.redis.prefix: required when bridge is enabled")
		if c.Bridge.SSH.Host != "" {
			v.Add(c.Bridge.SSH.User != "", "bridge.ssh.user: required when bridge.ssh.host is set")
		}
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		v.AddErrorf("log.level: %v", err)
	}
	v.Add(c.Log.Format == "text" || c.Log.Format == "json",
		fmt.Sprintf("log.format: must be \"text\" or \"json\", got %q", c.Log.Format))

	return v.Build()
}
