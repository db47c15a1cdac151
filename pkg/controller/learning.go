package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

const (
	// DefaultPriority is used for the static role tables.
	DefaultPriority uint16 = 10
	// LearnedPriority is used for reactively installed host rules.
	LearnedPriority uint16 = 1
)

// Outcome classifies how a packet-in was handled.
type Outcome string

const (
	OutcomeFlood         Outcome = "flood"
	OutcomeForward       Outcome = "forward"
	OutcomeDiscovery     Outcome = "discovery"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeUnknownDevice Outcome = "unknown-device"
)

// Decision is the result of one packet-in.
type Decision struct {
	Outcome Outcome
	Src     net.HardwareAddr
	Dst     net.HardwareAddr
	// OutPort is the learned port for OutcomeForward, PortFlood for
	// OutcomeFlood and zero otherwise.
	OutPort uint32
}

// LearningEngine learns source addresses per device and forwards frames to
// learned destinations, flooding the rest.
type LearningEngine struct {
	flows   *FlowInstaller
	metrics *Metrics

	mu     sync.RWMutex
	tables map[uint64]map[string]uint32
	total  int
}

// NewLearningEngine creates an engine with empty address tables.
func NewLearningEngine(flows *FlowInstaller, m *Metrics) *LearningEngine {
	return &LearningEngine{
		flows:   flows,
		metrics: m,
		tables:  make(map[uint64]map[string]uint32),
	}
}

// InstallDefaults installs the static table for the device's role. Every
// rule is attempted; failures are returned joined.
func (e *LearningEngine) InstallDefaults(ctx context.Context, dev *Device) error {
	var errs []error
	for _, pr := range dev.Role.DefaultRules() {
		fm := PermanentRule(DefaultPriority, openflow.Match{InPort: pr.InPort}, openflow.Output(pr.OutPort))
		if err := e.flows.Install(ctx, dev, KindDefault, fm); err != nil {
			util.WithDevice(dev.DPID).Warnf("default rule: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnPacketIn learns the frame's source and forwards or floods it.
func (e *LearningEngine) OnPacketIn(ctx context.Context, dev *Device, ev *openflow.PacketInEvent) (Decision, error) {
	log := util.WithDevice(dev.DPID)

	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(ev.Data, gopacket.NilDecodeFeedback); err != nil {
		e.metrics.packetIn(OutcomeMalformed)
		log.Debugf("discarding packet-in on port %d: %v", ev.InPort, err)
		return Decision{Outcome: OutcomeMalformed}, fmt.Errorf("%w: %v", util.ErrNotEthernet, err)
	}
	if int(ev.TotalLen) > len(ev.Data) {
		log.Debugf("packet-in truncated: %d of %d bytes", len(ev.Data), ev.TotalLen)
	}

	d := Decision{
		Src: append(net.HardwareAddr(nil), eth.SrcMAC...),
		Dst: append(net.HardwareAddr(nil), eth.DstMAC...),
	}

	if eth.EthernetType == layers.EthernetTypeLinkLayerDiscovery {
		d.Outcome = OutcomeDiscovery
		e.metrics.packetIn(d.Outcome)
		return d, nil
	}

	e.learn(dev.DPID, d.Src, ev.InPort)
	log.Debugf("packet in port=%d src=%s dst=%s", ev.InPort, d.Src, d.Dst)

	outPort, known := e.Lookup(dev.DPID, d.Dst)
	if !known {
		d.Outcome = OutcomeFlood
		d.OutPort = openflow.PortFlood
		e.metrics.packetIn(d.Outcome)
		return d, e.sendPacket(ctx, dev, ev, openflow.PortFlood)
	}

	d.Outcome = OutcomeForward
	d.OutPort = outPort
	e.metrics.packetIn(d.Outcome)

	fm := &openflow.FlowMod{
		Priority: LearnedPriority,
		Match:    openflow.Match{InPort: ev.InPort, EthDst: d.Dst, EthSrc: d.Src},
		Actions:  []openflow.Action{openflow.Output(outPort)},
		BufferID: ev.BufferID,
	}
	if err := e.flows.Install(ctx, dev, KindLearned, fm); err != nil {
		log.Warnf("learned rule: %v", err)
		// No rule releases the frame, so it goes out here whether buffered
		// or not.
		return d, errors.Join(err, e.sendPacket(ctx, dev, ev, outPort))
	}
	// The device releases a buffered frame through the new rule.
	if fm.HasBuffer() {
		return d, nil
	}
	return d, e.sendPacket(ctx, dev, ev, outPort)
}

func (e *LearningEngine) sendPacket(ctx context.Context, dev *Device, ev *openflow.PacketInEvent, port uint32) error {
	po := &openflow.PacketOut{
		BufferID: ev.BufferID,
		InPort:   ev.InPort,
		Actions:  []openflow.Action{openflow.Output(port)},
	}
	if ev.BufferID == openflow.NoBuffer {
		po.Data = ev.Data
	}
	if err := dev.Datapath.SendPacket(ctx, po); err != nil {
		e.metrics.failure(openflow.OpSendPacket)
		util.WithDevice(dev.DPID).Warnf("packet-out to %s: %v", openflow.PortName(port), err)
		return fmt.Errorf("packet-out on %s: %w", util.FormatDPID(dev.DPID), err)
	}
	e.metrics.packetOuts.Inc()
	return nil
}

func (e *LearningEngine) learn(dpid uint64, mac net.HardwareAddr, port uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	table, ok := e.tables[dpid]
	if !ok {
		table = make(map[string]uint32)
		e.tables[dpid] = table
	}
	key := mac.String()
	if _, seen := table[key]; !seen {
		e.total++
		e.metrics.learned.Set(float64(e.total))
	}
	table[key] = port
}

// Lookup returns the port mac was last seen on at dpid.
func (e *LearningEngine) Lookup(dpid uint64, mac net.HardwareAddr) (uint32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	port, ok := e.tables[dpid][mac.String()]
	return port, ok
}

// Table returns a copy of the address table of dpid, keyed by MAC string.
func (e *LearningEngine) Table(dpid uint64) map[string]uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]uint32, len(e.tables[dpid]))
	for mac, port := range e.tables[dpid] {
		out[mac] = port
	}
	return out
}

// Forget drops the address table of dpid.
func (e *LearningEngine) Forget(dpid uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total -= len(e.tables[dpid])
	delete(e.tables, dpid)
	e.metrics.learned.Set(float64(e.total))
}
