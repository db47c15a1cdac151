package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

// LinkState is the last state mirrored for a binding.
type LinkState string

const (
	LinkUp   LinkState = "up"
	LinkDown LinkState = "down"
)

// BindingState is the port-sync view of one mirror binding.
type BindingState struct {
	Source     fabric.PortRef   `json:"source"`
	Target     fabric.TargetRef `json:"target"`
	State      LinkState        `json:"state"`
	LastChange time.Time        `json:"last_change"`
	LastError  string           `json:"last_error,omitempty"`
}

// PortSync mirrors link-state changes of bound source ports as
// administrative up/down on their target ports.
type PortSync struct {
	registry *Registry
	metrics  *Metrics
	audit    auditor

	mu     sync.Mutex
	states map[fabric.PortRef]*BindingState
	ports  map[uint64]map[uint32]openflow.PortDesc
}

func newPortSync(bindings []fabric.MirrorBinding, r *Registry, m *Metrics, a auditor) *PortSync {
	p := &PortSync{
		registry: r,
		metrics:  m,
		audit:    a,
		states:   make(map[fabric.PortRef]*BindingState),
		ports:    make(map[uint64]map[uint32]openflow.PortDesc),
	}
	for _, b := range bindings {
		p.states[b.Source] = &BindingState{Source: b.Source, Target: b.Target, State: LinkUp}
	}
	return p
}

// OnPortDescReply replaces the port records of the device and reconciles
// every binding whose source or target lives on it.
func (p *PortSync) OnPortDescReply(ctx context.Context, ev *openflow.PortDescReplyEvent) error {
	records := make(map[uint32]openflow.PortDesc, len(ev.Ports))
	for _, pd := range ev.Ports {
		records[pd.PortNo] = pd
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports[ev.DPID] = records
	util.WithDevice(ev.DPID).Debugf("recorded %d port descriptions", len(records))

	var errs []error
	for _, st := range p.sortedStates() {
		if st.Source.DPID != ev.DPID && st.Target.DPID != ev.DPID {
			continue
		}
		if err := p.reconcile(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnPortStatus refreshes the port record and, for a modify on a bound
// source port whose link state changed, disables or re-enables the target.
// A target that cannot be resolved leaves the binding state unchanged so the
// next notification tries again.
func (p *PortSync) OnPortStatus(ctx context.Context, ev *openflow.PortStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateRecord(ev)
	if ev.Reason != openflow.PortReasonModify {
		return nil
	}

	st, ok := p.states[fabric.PortRef{DPID: ev.DPID, Port: ev.Desc.PortNo}]
	if !ok {
		return nil
	}
	want := linkStateOf(ev.Desc)
	if st.State == want {
		return nil
	}

	aev := p.event(st, want, fmt.Sprintf("source %s link %s", st.Source, want))
	dev, target, err := p.resolve(st.Target)
	if err != nil {
		st.LastError = err.Error()
		p.metrics.portSync.WithLabelValues("unresolved").Inc()
		p.audit.log(aev.WithError(err))
		util.WithDevice(st.Target.DPID).Warnf("port sync %s: %v", st.Source, err)
		return err
	}
	return p.modify(ctx, st, dev, target, want, aev)
}

// reconcile compares the link state of the source port with the
// administrative state of the target port and corrects the target when they
// disagree. Until both records are known it does nothing.
func (p *PortSync) reconcile(ctx context.Context, st *BindingState) error {
	src, ok := p.ports[st.Source.DPID][st.Source.Port]
	if !ok {
		return nil
	}
	dev, target, err := p.resolve(st.Target)
	if err != nil {
		util.WithDevice(st.Target.DPID).Debugf("reconcile %s: %v", st.Source, err)
		return nil
	}

	want := linkStateOf(src)
	if adminStateOf(target) == want {
		if st.State != want {
			st.State = want
			st.LastChange = time.Now()
		}
		st.LastError = ""
		return nil
	}
	aev := p.event(st, want, fmt.Sprintf("reconcile: source %s link %s, target port administratively %s",
		st.Source, want, adminStateOf(target)))
	return p.modify(ctx, st, dev, target, want, aev)
}

// modify sets the administrative state of the resolved target port and
// commits want to the binding only when the transport accepted the change.
func (p *PortSync) modify(ctx context.Context, st *BindingState, dev *Device, target openflow.PortDesc, want LinkState, aev *audit.Event) error {
	var config uint32
	if want == LinkDown {
		config = openflow.PortConfigPortDown
	}
	pm := &openflow.PortMod{
		PortNo:    st.Target.Port,
		HWAddr:    target.HWAddr,
		Config:    config,
		Mask:      openflow.PortConfigPortDown,
		Advertise: 0,
	}
	log := util.WithDevice(st.Target.DPID)
	if err := dev.Datapath.ModifyPort(ctx, pm); err != nil {
		st.LastError = err.Error()
		p.metrics.failure(openflow.OpModifyPort)
		p.metrics.portSync.WithLabelValues("failed").Inc()
		p.audit.log(aev.WithError(err))
		log.Warnf("port sync %s: modify port %d: %v", st.Source, pm.PortNo, err)
		return fmt.Errorf("modifying port %d on %s: %w", pm.PortNo, util.FormatDPID(dev.DPID), err)
	}

	st.State = want
	st.LastChange = time.Now()
	st.LastError = ""
	p.metrics.portSync.WithLabelValues(string(want)).Inc()
	p.audit.log(aev.WithSuccess())
	log.Infof("port %d administratively %s after %s link %s", pm.PortNo, want, st.Source, want)
	return nil
}

func (p *PortSync) event(st *BindingState, want LinkState, detail string) *audit.Event {
	op := audit.OpPortSyncUp
	if want == LinkDown {
		op = audit.OpPortSyncDown
	}
	return audit.NewEvent(st.Target.DPID, op).WithPort(st.Target.Port).WithDetail(detail)
}

func linkStateOf(pd openflow.PortDesc) LinkState {
	if pd.LinkDown() {
		return LinkDown
	}
	return LinkUp
}

func adminStateOf(pd openflow.PortDesc) LinkState {
	if pd.Config&openflow.PortConfigPortDown != 0 {
		return LinkDown
	}
	return LinkUp
}

func (p *PortSync) updateRecord(ev *openflow.PortStatusEvent) {
	if ev.Reason == openflow.PortReasonDelete {
		delete(p.ports[ev.DPID], ev.Desc.PortNo)
		return
	}
	records, ok := p.ports[ev.DPID]
	if !ok {
		records = make(map[uint32]openflow.PortDesc)
		p.ports[ev.DPID] = records
	}
	records[ev.Desc.PortNo] = ev.Desc
}

// resolve finds the target device and the record of the target port, by
// name prefix when one is configured and by port number otherwise.
func (p *PortSync) resolve(t fabric.TargetRef) (*Device, openflow.PortDesc, error) {
	dev, ok := p.registry.Get(t.DPID)
	if !ok {
		return nil, openflow.PortDesc{}, util.NewResolutionError(t.DPID, t.Port, t.NamePrefix, "target device not connected")
	}
	records := p.ports[t.DPID]
	if len(records) == 0 {
		return nil, openflow.PortDesc{}, util.NewResolutionError(t.DPID, t.Port, t.NamePrefix, "no port descriptions received")
	}

	if t.NamePrefix == "" {
		pd, ok := records[t.Port]
		if !ok {
			return nil, openflow.PortDesc{}, util.NewResolutionError(t.DPID, t.Port, "", "no such port")
		}
		return dev, pd, nil
	}

	for _, pd := range sortedPorts(records) {
		if strings.HasPrefix(pd.Name, t.NamePrefix) {
			return dev, pd, nil
		}
	}
	return nil, openflow.PortDesc{}, util.NewResolutionError(t.DPID, t.Port, t.NamePrefix, "no matching port name")
}

func sortedPorts(records map[uint32]openflow.PortDesc) []openflow.PortDesc {
	out := make([]openflow.PortDesc, 0, len(records))
	for _, pd := range records {
		out = append(out, pd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PortNo < out[j].PortNo })
	return out
}

// PortRecords returns the known ports of dpid ordered by port number.
func (p *PortSync) PortRecords(dpid uint64) []openflow.PortDesc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedPorts(p.ports[dpid])
}

// States returns the binding states ordered by source.
func (p *PortSync) States() []BindingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	sorted := p.sortedStates()
	out := make([]BindingState, len(sorted))
	for i, st := range sorted {
		out[i] = *st
	}
	return out
}

func (p *PortSync) sortedStates() []*BindingState {
	out := make([]*BindingState, 0, len(p.states))
	for _, st := range p.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source.DPID != out[j].Source.DPID {
			return out[i].Source.DPID < out[j].Source.DPID
		}
		return out[i].Source.Port < out[j].Source.Port
	})
	return out
}

// Forget drops the port records of dpid. Binding states are kept: the
// target keeps its administrative state on the device, and the next port
// description reply reconciles against it.
func (p *PortSync) Forget(dpid uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ports, dpid)
}
