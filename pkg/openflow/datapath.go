package openflow

import "context"

// Datapath is the controller's handle on one connected device.
//
// Every operation is fire-and-forget: a nil error means the message was
// handed to the transport, not that the device applied it. Delivery is
// at-most-once and nothing is retried. Replies (port descriptions) come back
// later as a separate PortDescReplyEvent.
type Datapath interface {
	ID() uint64
	InstallRule(ctx context.Context, fm *FlowMod) error
	InstallGroup(ctx context.Context, gm *GroupMod) error
	SendPacket(ctx context.Context, po *PacketOut) error
	ModifyPort(ctx context.Context, pm *PortMod) error
	QueryPortDescriptions(ctx context.Context) error
}

// Event is a notification raised by the protocol layer.
type Event interface {
	DatapathID() uint64
}

// ConnectEvent is raised once the features handshake with a device completes.
type ConnectEvent struct {
	Datapath Datapath
	Features Features
}

func (e *ConnectEvent) DatapathID() uint64 { return e.Datapath.ID() }

// DisconnectEvent is raised when the session to a device is lost.
type DisconnectEvent struct {
	DPID uint64
}

func (e *DisconnectEvent) DatapathID() uint64 { return e.DPID }

// PacketInEvent carries a frame the device sent to the controller.
type PacketInEvent struct {
	DPID     uint64
	InPort   uint32
	BufferID uint32
	// TotalLen is the full frame length; Data may be shorter when the
	// device truncated it to its miss_send_len.
	TotalLen uint16
	Data     []byte
}

func (e *PacketInEvent) DatapathID() uint64 { return e.DPID }

// PortStatusEvent reports a port being added, removed or modified.
type PortStatusEvent struct {
	DPID   uint64
	Reason PortReason
	Desc   PortDesc
}

func (e *PortStatusEvent) DatapathID() uint64 { return e.DPID }

// PortDescReplyEvent answers QueryPortDescriptions.
type PortDescReplyEvent struct {
	DPID  uint64
	Ports []PortDesc
}

func (e *PortDescReplyEvent) DatapathID() uint64 { return e.DPID }
