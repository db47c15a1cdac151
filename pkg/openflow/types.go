// Package openflow defines the protocol vocabulary newtflow speaks to its
// forwarding devices: rule, group, packet-out and port-mod messages with
// OpenFlow 1.3 numbering, the notifications devices raise, and the Datapath
// interface an external protocol layer implements.
//
// Encoding these messages on the wire is the job of the Datapath
// implementation; nothing in this package touches a socket.
package openflow

import (
	"fmt"
	"net"
	"strings"
)

// Reserved port numbers, libOpenflow openflow13 P_CONTROLLER, P_FLOOD and
// P_ANY.
const (
	PortController uint32 = 0xfffffffd
	PortFlood      uint32 = 0xfffffffb
	PortAny        uint32 = 0xffffffff
)

// GroupAny leaves a bucket's watch group unset (OFPG_ANY).
const GroupAny uint32 = 0xffffffff

// NoBuffer marks a packet-in or flow-mod that carries no switch buffer
// reference (OFP_NO_BUFFER).
const NoBuffer uint32 = 0xffffffff

// Port config and state bits (OFPPC_PORT_DOWN / OFPPS_LINK_DOWN)
const (
	PortConfigPortDown uint32 = 1 << 0
	PortStateLinkDown  uint32 = 1 << 0
)

// EthTypeLLDP is the ethertype of link-layer discovery frames.
const EthTypeLLDP uint16 = 0x88cc

// PortReason is the reason field of a port-status notification
// (OFPPR_ADD, OFPPR_DELETE, OFPPR_MODIFY).
type PortReason uint8

const (
	PortReasonAdd    PortReason = 0
	PortReasonDelete PortReason = 1
	PortReasonModify PortReason = 2
)

func (r PortReason) String() string {
	switch r {
	case PortReasonAdd:
		return "add"
	case PortReasonDelete:
		return "delete"
	case PortReasonModify:
		return "modify"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// GroupType selects group bucket semantics (OFPGT_ALL through OFPGT_FF).
type GroupType uint8

const (
	GroupTypeAll          GroupType = 0
	GroupTypeSelect       GroupType = 1
	GroupTypeIndirect     GroupType = 2
	GroupTypeFastFailover GroupType = 3
)

func (g GroupType) String() string {
	switch g {
	case GroupTypeAll:
		return "all"
	case GroupTypeSelect:
		return "select"
	case GroupTypeIndirect:
		return "indirect"
	case GroupTypeFastFailover:
		return "fast-failover"
	}
	return fmt.Sprintf("type(%d)", uint8(g))
}

// ActionType enumerates the actions newtflow emits.
type ActionType string

const (
	ActionOutput ActionType = "output"
	ActionGroup  ActionType = "group"
)

// Action is one entry of an apply-actions list.
type Action struct {
	Type    ActionType
	Port    uint32 // output port, valid for ActionOutput
	GroupID uint32 // valid for ActionGroup
}

// Output returns an output action to port.
func Output(port uint32) Action {
	return Action{Type: ActionOutput, Port: port}
}

// Group returns an action that executes the given group.
func Group(id uint32) Action {
	return Action{Type: ActionGroup, GroupID: id}
}

// String renders the action in ovs-ofctl style ("output:2", "group:100").
func (a Action) String() string {
	switch a.Type {
	case ActionOutput:
		return "output:" + PortName(a.Port)
	case ActionGroup:
		return fmt.Sprintf("group:%d", a.GroupID)
	}
	return string(a.Type)
}

// PortName renders reserved ports by name and others by number.
func PortName(port uint32) string {
	switch port {
	case PortFlood:
		return "flood"
	case PortController:
		return "controller"
	case PortAny:
		return "any"
	}
	return fmt.Sprintf("%d", port)
}

// ActionsString joins actions with commas.
func ActionsString(actions []Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// Match is the subset of OXM fields newtflow matches on. Zero values are
// wildcards.
type Match struct {
	InPort uint32
	EthDst net.HardwareAddr
	EthSrc net.HardwareAddr
}

// String renders the match in ovs-ofctl style; it doubles as the identity
// of the match in shadow flow tables.
func (m Match) String() string {
	var parts []string
	if m.InPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.EthDst != nil {
		parts = append(parts, "eth_dst="+m.EthDst.String())
	}
	if m.EthSrc != nil {
		parts = append(parts, "eth_src="+m.EthSrc.String())
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

// FlowMod installs one forwarding rule in table 0. Zero timeouts make the
// rule permanent.
type FlowMod struct {
	Priority    uint16
	Match       Match
	Actions     []Action
	IdleTimeout uint16
	HardTimeout uint16
	// BufferID asks the device to apply the new rule to a frame it has
	// buffered. NoBuffer when absent.
	BufferID uint32
}

// HasBuffer reports whether the flow-mod references a switch buffer.
func (f *FlowMod) HasBuffer() bool {
	return f.BufferID != NoBuffer
}

// Bucket is one alternative of a group.
type Bucket struct {
	Weight     uint16
	WatchPort  uint32
	WatchGroup uint32
	Actions    []Action
}

// GroupMod adds a group to a device.
type GroupMod struct {
	GroupID uint32
	Type    GroupType
	Buckets []Bucket
}

// PacketOut asks a device to emit a frame, either one it buffered
// (BufferID) or the raw Data carried in the message.
type PacketOut struct {
	BufferID uint32
	InPort   uint32
	Actions  []Action
	Data     []byte
}

// PortMod changes the administrative config bits selected by Mask.
type PortMod struct {
	PortNo    uint32
	HWAddr    net.HardwareAddr
	Config    uint32
	Mask      uint32
	Advertise uint32
}

// PortDesc describes one physical port.
type PortDesc struct {
	PortNo uint32
	Name   string
	HWAddr net.HardwareAddr
	Config uint32
	State  uint32
}

// LinkDown reports whether the physical link is down.
func (p PortDesc) LinkDown() bool {
	return p.State&PortStateLinkDown != 0
}

// Features is the subset of the features reply newtflow keeps.
type Features struct {
	DPID     uint64
	NBuffers uint32
	NTables  uint8
}
