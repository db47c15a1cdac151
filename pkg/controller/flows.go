package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

// RuleKind tags a rule with the component that installed it.
type RuleKind string

const (
	KindDefault    RuleKind = "default"
	KindLearned    RuleKind = "learned"
	KindPathSwitch RuleKind = "path-switch"
	KindFailover   RuleKind = "failover"
)

// Rule is one entry of a device's shadow flow table.
type Rule struct {
	Priority    uint16    `json:"priority"`
	Match       string    `json:"match"`
	Actions     string    `json:"actions"`
	Kind        RuleKind  `json:"kind"`
	InstalledAt time.Time `json:"installed_at"`
}

type ruleKey struct {
	priority uint16
	match    string
}

// FlowInstaller issues rule installs and mirrors what it issued in a
// per-device shadow table. Rules with the same priority and match replace
// each other, as they do in the device's table.
type FlowInstaller struct {
	metrics  *Metrics
	registry *Registry

	mu     sync.RWMutex
	tables map[uint64]map[ruleKey]Rule
}

// NewFlowInstaller creates an installer with empty shadow tables. Only
// devices currently held by r get a shadow table.
func NewFlowInstaller(m *Metrics, r *Registry) *FlowInstaller {
	return &FlowInstaller{metrics: m, registry: r, tables: make(map[uint64]map[ruleKey]Rule)}
}

// PermanentRule builds a rule with no timeouts and no buffer reference.
func PermanentRule(priority uint16, match openflow.Match, actions ...openflow.Action) *openflow.FlowMod {
	return &openflow.FlowMod{
		Priority: priority,
		Match:    match,
		Actions:  actions,
		BufferID: openflow.NoBuffer,
	}
}

// Install sends fm to dev. The shadow table only records rules the
// transport accepted, and only while dev is still the registered device for
// its datapath id.
func (f *FlowInstaller) Install(ctx context.Context, dev *Device, kind RuleKind, fm *openflow.FlowMod) error {
	if err := dev.Datapath.InstallRule(ctx, fm); err != nil {
		f.metrics.failure(openflow.OpInstallRule)
		return fmt.Errorf("installing %s rule %s on %s: %w", kind, fm.Match, util.FormatDPID(dev.DPID), err)
	}

	rule := Rule{
		Priority:    fm.Priority,
		Match:       fm.Match.String(),
		Actions:     openflow.ActionsString(fm.Actions),
		Kind:        kind,
		InstalledAt: time.Now(),
	}

	f.mu.Lock()
	if cur, ok := f.registry.Get(dev.DPID); !ok || cur != dev {
		f.mu.Unlock()
		util.WithDevice(dev.DPID).Debugf("device left during install, not recording %s rule %s", kind, rule.Match)
		return nil
	}
	table, ok := f.tables[dev.DPID]
	if !ok {
		table = make(map[ruleKey]Rule)
		f.tables[dev.DPID] = table
	}
	table[ruleKey{rule.Priority, rule.Match}] = rule
	f.mu.Unlock()

	f.metrics.flowInstalled(kind)
	util.WithDevice(dev.DPID).Debugf("flow %s priority=%d %s -> %s", kind, rule.Priority, rule.Match, rule.Actions)
	return nil
}

// Rules returns the shadow table of dpid, highest priority first.
func (f *FlowInstaller) Rules(dpid uint64) []Rule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	table := f.tables[dpid]
	out := make([]Rule, 0, len(table))
	for _, r := range table {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Match < out[j].Match
	})
	return out
}

// Lookup returns the shadow rule with the given priority and match.
func (f *FlowInstaller) Lookup(dpid uint64, priority uint16, match openflow.Match) (Rule, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.tables[dpid][ruleKey{priority, match.String()}]
	return r, ok
}

// Count returns the number of distinct rules shadowed for dpid.
func (f *FlowInstaller) Count(dpid uint64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tables[dpid])
}

// Forget drops the shadow table of dpid.
func (f *FlowInstaller) Forget(dpid uint64) {
	f.mu.Lock()
	delete(f.tables, dpid)
	f.mu.Unlock()
}
