package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

// FailoverManager installs the fast-failover group and its steering rules on
// bundled ingress devices. The device itself then moves traffic between
// buckets as watched ports go down; the controller is not involved.
type FailoverManager struct {
	cfg     fabric.FailoverConfig
	flows   *FlowInstaller
	metrics *Metrics
	audit   auditor

	mu        sync.Mutex
	installed map[uint64]int
}

func newFailoverManager(cfg fabric.FailoverConfig, f *FlowInstaller, m *Metrics, a auditor) *FailoverManager {
	return &FailoverManager{cfg: cfg, flows: f, metrics: m, audit: a, installed: make(map[uint64]int)}
}

// GroupMod builds the configured fast-failover group.
func (m *FailoverManager) GroupMod() *openflow.GroupMod {
	gm := &openflow.GroupMod{GroupID: m.cfg.GroupID, Type: openflow.GroupTypeFastFailover}
	for _, b := range m.cfg.Buckets {
		gm.Buckets = append(gm.Buckets, openflow.Bucket{
			WatchPort:  b.WatchPort,
			WatchGroup: openflow.GroupAny,
			Actions:    []openflow.Action{openflow.Output(b.Output)},
		})
	}
	return gm
}

// OnConnect requests port descriptions, installs the group, steers the
// ingress port into it and installs the return rules. A rejected group
// install skips the steering rule but not the return rules.
func (m *FailoverManager) OnConnect(ctx context.Context, dev *Device) error {
	log := util.WithDevice(dev.DPID)
	var errs []error

	if err := dev.Datapath.QueryPortDescriptions(ctx); err != nil {
		m.metrics.failure(openflow.OpQueryPorts)
		log.Warnf("port description request: %v", err)
		errs = append(errs, fmt.Errorf("querying ports on %s: %w", util.FormatDPID(dev.DPID), err))
	}

	gm := m.GroupMod()
	ev := audit.NewEvent(dev.DPID, audit.OpFailoverInstall).
		WithDetail(fmt.Sprintf("group %d with %d buckets", gm.GroupID, len(gm.Buckets)))
	if err := dev.Datapath.InstallGroup(ctx, gm); err != nil {
		m.metrics.failure(openflow.OpInstallGroup)
		log.Warnf("failover group %d: %v", gm.GroupID, err)
		m.audit.log(ev.WithError(err))
		errs = append(errs, fmt.Errorf("installing group %d on %s: %w", gm.GroupID, util.FormatDPID(dev.DPID), err))
	} else {
		m.mu.Lock()
		m.installed[dev.DPID]++
		m.mu.Unlock()
		m.audit.log(ev.WithSuccess())
		log.Infof("installed fast-failover group %d", gm.GroupID)

		steer := PermanentRule(m.cfg.Priority, openflow.Match{InPort: m.cfg.IngressPort}, openflow.Group(gm.GroupID))
		if err := m.flows.Install(ctx, dev, KindFailover, steer); err != nil {
			log.Warnf("failover rule: %v", err)
			errs = append(errs, err)
		}
	}

	for _, b := range m.cfg.Buckets {
		back := PermanentRule(m.cfg.Priority, openflow.Match{InPort: b.Output}, openflow.Output(m.cfg.ReturnPort))
		if err := m.flows.Install(ctx, dev, KindFailover, back); err != nil {
			log.Warnf("return rule: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Installs returns how many times the group was accepted for dpid during its
// current connection.
func (m *FailoverManager) Installs(dpid uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installed[dpid]
}

// Installed reports whether the group is in place on dpid.
func (m *FailoverManager) Installed(dpid uint64) bool {
	return m.Installs(dpid) > 0
}

// Forget clears the install record of dpid.
func (m *FailoverManager) Forget(dpid uint64) {
	m.mu.Lock()
	delete(m.installed, dpid)
	m.mu.Unlock()
}
