package openflow

import (
	"context"
	"net"
	"sync"
)

// OpKind names a Datapath operation.
type OpKind string

const (
	OpInstallRule  OpKind = "install-rule"
	OpInstallGroup OpKind = "install-group"
	OpSendPacket   OpKind = "send-packet"
	OpModifyPort   OpKind = "modify-port"
	OpQueryPorts   OpKind = "query-ports"
)

// Op is one operation captured by a Recorder. Exactly one of the message
// fields is set, matching Kind; OpQueryPorts carries none.
type Op struct {
	Kind   OpKind
	Flow   *FlowMod
	Group  *GroupMod
	Packet *PacketOut
	Port   *PortMod
}

// Recorder is an in-memory Datapath that records every operation it is
// asked to perform. It backs the simulate command and the controller tests.
type Recorder struct {
	dpid uint64

	mu   sync.Mutex
	ops  []Op
	fail map[OpKind]error
}

// NewRecorder creates a recorder for the given datapath id.
func NewRecorder(dpid uint64) *Recorder {
	return &Recorder{dpid: dpid, fail: make(map[OpKind]error)}
}

// FailWith makes every later operation of kind return err. A nil err clears
// the injected failure. Failed operations are not recorded.
func (r *Recorder) FailWith(kind OpKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, kind)
		return
	}
	r.fail[kind] = err
}

func (r *Recorder) ID() uint64 { return r.dpid }

func (r *Recorder) InstallRule(_ context.Context, fm *FlowMod) error {
	c := *fm
	c.Match = cloneMatch(fm.Match)
	c.Actions = append([]Action(nil), fm.Actions...)
	return r.record(Op{Kind: OpInstallRule, Flow: &c})
}

func (r *Recorder) InstallGroup(_ context.Context, gm *GroupMod) error {
	c := *gm
	c.Buckets = make([]Bucket, len(gm.Buckets))
	for i, b := range gm.Buckets {
		b.Actions = append([]Action(nil), b.Actions...)
		c.Buckets[i] = b
	}
	return r.record(Op{Kind: OpInstallGroup, Group: &c})
}

func (r *Recorder) SendPacket(_ context.Context, po *PacketOut) error {
	c := *po
	c.Actions = append([]Action(nil), po.Actions...)
	c.Data = append([]byte(nil), po.Data...)
	return r.record(Op{Kind: OpSendPacket, Packet: &c})
}

func (r *Recorder) ModifyPort(_ context.Context, pm *PortMod) error {
	c := *pm
	c.HWAddr = append(net.HardwareAddr(nil), pm.HWAddr...)
	return r.record(Op{Kind: OpModifyPort, Port: &c})
}

func (r *Recorder) QueryPortDescriptions(_ context.Context) error {
	return r.record(Op{Kind: OpQueryPorts})
}

func (r *Recorder) record(op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[op.Kind]; err != nil {
		return err
	}
	r.ops = append(r.ops, op)
	return nil
}

// Ops returns a copy of all recorded operations in issue order.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Count returns how many operations of kind were recorded.
func (r *Recorder) Count(kind OpKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Flows returns the recorded flow-mods in issue order.
func (r *Recorder) Flows() []*FlowMod {
	var out []*FlowMod
	for _, op := range r.Ops() {
		if op.Kind == OpInstallRule {
			out = append(out, op.Flow)
		}
	}
	return out
}

// Groups returns the recorded group-mods in issue order.
func (r *Recorder) Groups() []*GroupMod {
	var out []*GroupMod
	for _, op := range r.Ops() {
		if op.Kind == OpInstallGroup {
			out = append(out, op.Group)
		}
	}
	return out
}

// PacketOuts returns the recorded packet-outs in issue order.
func (r *Recorder) PacketOuts() []*PacketOut {
	var out []*PacketOut
	for _, op := range r.Ops() {
		if op.Kind == OpSendPacket {
			out = append(out, op.Packet)
		}
	}
	return out
}

// PortMods returns the recorded port-mods in issue order.
func (r *Recorder) PortMods() []*PortMod {
	var out []*PortMod
	for _, op := range r.Ops() {
		if op.Kind == OpModifyPort {
			out = append(out, op.Port)
		}
	}
	return out
}

// Reset drops all recorded operations.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func cloneMatch(m Match) Match {
	if m.EthDst != nil {
		m.EthDst = append(net.HardwareAddr(nil), m.EthDst...)
	}
	if m.EthSrc != nil {
		m.EthSrc = append(net.HardwareAddr(nil), m.EthSrc...)
	}
	return m
}
