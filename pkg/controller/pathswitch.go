package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

// PathState is a snapshot of the path-switch scheduler.
type PathState struct {
	ActiveA  bool      `json:"active_a"`
	NextPort uint32    `json:"next_port"`
	LastPort uint32    `json:"last_port,omitempty"`
	Ticks    uint64    `json:"ticks"`
	LastSwap time.Time `json:"last_swap"`
}

// PathSwitcher alternates the egress port of host traffic on the bundled
// ingress pair. It does not look at link state.
type PathSwitcher struct {
	cfg      fabric.PathSwitchConfig
	registry *Registry
	flows    *FlowInstaller
	metrics  *Metrics
	audit    auditor

	mu       sync.Mutex
	activeA  bool
	ticks    uint64
	lastPort uint32
	lastSwap time.Time
}

func newPathSwitcher(cfg fabric.PathSwitchConfig, r *Registry, f *FlowInstaller, m *Metrics, a auditor) *PathSwitcher {
	s := &PathSwitcher{
		cfg:      cfg,
		registry: r,
		flows:    f,
		metrics:  m,
		audit:    a,
		activeA:  cfg.StartWith != "b",
	}
	m.setPathActive(s.activeA)
	return s
}

// Run ticks every configured interval until ctx is cancelled.
func (s *PathSwitcher) Run(ctx context.Context) error {
	log := util.WithComponent("pathswitch")
	log.Infof("path switch every %s between ports %d and %d", s.cfg.Interval, s.cfg.PortA, s.cfg.PortB)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick installs the current alternative on the first two bundled ingress
// devices and flips the path state. The pair is taken by role in connect
// order, so core and unassigned devices never receive the rule even when
// they connected first. With fewer than two bundled ingress devices it does
// nothing and returns false.
func (s *PathSwitcher) Tick(ctx context.Context) (uint32, bool) {
	pair := s.registry.ByRole(fabric.RoleBundledIngress)
	if len(pair) < 2 {
		util.WithComponent("pathswitch").Debugf("%d bundled ingress devices registered, skipping tick", len(pair))
		return 0, false
	}
	pair = pair[:2]

	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.portFor(s.activeA)
	match := openflow.Match{InPort: s.cfg.IngressPort}
	for _, dev := range pair {
		ev := audit.NewEvent(dev.DPID, audit.OpPathSwap).
			WithPort(port).
			WithDetail(fmt.Sprintf("%s -> output:%d", match, port))
		if err := s.flows.Install(ctx, dev, KindPathSwitch, PermanentRule(s.cfg.Priority, match, openflow.Output(port))); err != nil {
			util.WithDevice(dev.DPID).Warnf("path switch: %v", err)
			s.audit.log(ev.WithError(err))
			continue
		}
		s.audit.log(ev.WithSuccess())
	}

	util.WithComponent("pathswitch").Infof("egress for in_port=%d now port %d on %s and %s",
		s.cfg.IngressPort, port, pair[0].Name, pair[1].Name)

	s.activeA = !s.activeA
	s.ticks++
	s.lastPort = port
	s.lastSwap = time.Now()
	s.metrics.pathSwaps.Inc()
	s.metrics.setPathActive(s.activeA)
	return port, true
}

func (s *PathSwitcher) portFor(activeA bool) uint32 {
	if activeA {
		return s.cfg.PortA
	}
	return s.cfg.PortB
}

// State returns a snapshot of the scheduler.
func (s *PathSwitcher) State() PathState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PathState{
		ActiveA:  s.activeA,
		NextPort: s.portFor(s.activeA),
		LastPort: s.lastPort,
		Ticks:    s.ticks,
		LastSwap: s.lastSwap,
	}
}
