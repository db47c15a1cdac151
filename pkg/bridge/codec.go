package bridge

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/newtron-network/newtflow/pkg/openflow"
)

// Event types published by the agent on the events channel
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventPacketIn   = "packet_in"
	EventPortStatus = "port_status"
	EventPortDesc   = "port_desc"
)

// Envelope wraps one outbound operation on a device's ops channel.
type Envelope struct {
	ID   string          `json:"id"`
	Op   openflow.OpKind `json:"op"`
	DPID uint64          `json:"dpid"`
	Body json.RawMessage `json:"body,omitempty"`
}

// wireEvent is the agent's notification format. Hardware addresses travel
// as colon-separated strings and frame data as base64.
type wireEvent struct {
	Type     string        `json:"type"`
	DPID     uint64        `json:"dpid"`
	Features *wireFeatures `json:"features,omitempty"`
	InPort   uint32        `json:"in_port,omitempty"`
	BufferID *uint32       `json:"buffer_id,omitempty"`
	TotalLen uint16        `json:"total_len,omitempty"`
	Data     []byte        `json:"data,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Port     *wirePort     `json:"port,omitempty"`
	Ports    []wirePort    `json:"ports,omitempty"`
}

type wireFeatures struct {
	NBuffers uint32 `json:"n_buffers"`
	NTables  uint8  `json:"n_tables"`
}

type wirePort struct {
	PortNo uint32 `json:"port_no"`
	Name   string `json:"name"`
	HWAddr string `json:"hw_addr"`
	Config uint32 `json:"config"`
	State  uint32 `json:"state"`
}

type wireMatch struct {
	InPort uint32 `json:"in_port,omitempty"`
	EthDst string `json:"eth_dst,omitempty"`
	EthSrc string `json:"eth_src,omitempty"`
}

type wireAction struct {
	Type    openflow.ActionType `json:"type"`
	Port    uint32              `json:"port,omitempty"`
	GroupID uint32              `json:"group_id,omitempty"`
}

type wireFlow struct {
	Priority    uint16       `json:"priority"`
	Match       wireMatch    `json:"match"`
	Actions     []wireAction `json:"actions"`
	IdleTimeout uint16       `json:"idle_timeout"`
	HardTimeout uint16       `json:"hard_timeout"`
	BufferID    uint32       `json:"buffer_id"`
}

type wireBucket struct {
	Weight     uint16       `json:"weight"`
	WatchPort  uint32       `json:"watch_port"`
	WatchGroup uint32       `json:"watch_group"`
	Actions    []wireAction `json:"actions"`
}

type wireGroup struct {
	GroupID uint32       `json:"group_id"`
	Type    string       `json:"type"`
	Buckets []wireBucket `json:"buckets"`
}

type wirePacketOut struct {
	BufferID uint32       `json:"buffer_id"`
	InPort   uint32       `json:"in_port"`
	Actions  []wireAction `json:"actions"`
	Data     []byte       `json:"data,omitempty"`
}

type wirePortMod struct {
	PortNo    uint32 `json:"port_no"`
	HWAddr    string `json:"hw_addr"`
	Config    uint32 `json:"config"`
	Mask      uint32 `json:"mask"`
	Advertise uint32 `json:"advertise"`
}

// DecodeEvent parses one agent notification. datapath supplies the handle
// attached to connect events.
func DecodeEvent(data []byte, datapath func(dpid uint64) openflow.Datapath) (openflow.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	if w.DPID == 0 {
		return nil, fmt.Errorf("event %q without dpid", w.Type)
	}

	switch w.Type {
	case EventConnect:
		ev := &openflow.ConnectEvent{
			Datapath: datapath(w.DPID),
			Features: openflow.Features{DPID: w.DPID},
		}
		if w.Features != nil {
			ev.Features.NBuffers = w.Features.NBuffers
			ev.Features.NTables = w.Features.NTables
		}
		return ev, nil

	case EventDisconnect:
		return &openflow.DisconnectEvent{DPID: w.DPID}, nil

	case EventPacketIn:
		ev := &openflow.PacketInEvent{
			DPID:     w.DPID,
			InPort:   w.InPort,
			BufferID: openflow.NoBuffer,
			TotalLen: w.TotalLen,
			Data:     w.Data,
		}
		if w.BufferID != nil {
			ev.BufferID = *w.BufferID
		}
		if ev.TotalLen == 0 {
			ev.TotalLen = uint16(len(w.Data))
		}
		return ev, nil

	case EventPortStatus:
		if w.Port == nil {
			return nil, fmt.Errorf("port_status without port")
		}
		reason, err := parseReason(w.Reason)
		if err != nil {
			return nil, err
		}
		desc, err := w.Port.desc()
		if err != nil {
			return nil, err
		}
		return &openflow.PortStatusEvent{DPID: w.DPID, Reason: reason, Desc: desc}, nil

	case EventPortDesc:
		ev := &openflow.PortDescReplyEvent{DPID: w.DPID}
		for _, p := range w.Ports {
			desc, err := p.desc()
			if err != nil {
				return nil, err
			}
			ev.Ports = append(ev.Ports, desc)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("unknown event type %q", w.Type)
}

func parseReason(s string) (openflow.PortReason, error) {
	switch s {
	case "add":
		return openflow.PortReasonAdd, nil
	case "delete":
		return openflow.PortReasonDelete, nil
	case "modify":
		return openflow.PortReasonModify, nil
	}
	return 0, fmt.Errorf("unknown port reason %q", s)
}

func (p wirePort) desc() (openflow.PortDesc, error) {
	d := openflow.PortDesc{PortNo: p.PortNo, Name: p.Name, Config: p.Config, State: p.State}
	if p.HWAddr != "" {
		hw, err := net.ParseMAC(p.HWAddr)
		if err != nil {
			return d, fmt.Errorf("port %d: %w", p.PortNo, err)
		}
		d.HWAddr = hw
	}
	return d, nil
}

func macString(hw net.HardwareAddr) string {
	if hw == nil {
		return ""
	}
	return hw.String()
}

func encodeActions(actions []openflow.Action) []wireAction {
	out := make([]wireAction, len(actions))
	for i, a := range actions {
		out[i] = wireAction{Type: a.Type, Port: a.Port, GroupID: a.GroupID}
	}
	return out
}

func encodeFlow(fm *openflow.FlowMod) wireFlow {
	return wireFlow{
		Priority: fm.Priority,
		Match: wireMatch{
			InPort: fm.Match.InPort,
			EthDst: macString(fm.Match.EthDst),
			EthSrc: macString(fm.Match.EthSrc),
		},
		Actions:     encodeActions(fm.Actions),
		IdleTimeout: fm.IdleTimeout,
		HardTimeout: fm.HardTimeout,
		BufferID:    fm.BufferID,
	}
}

func encodeGroup(gm *openflow.GroupMod) wireGroup {
	w := wireGroup{GroupID: gm.GroupID, Type: gm.Type.String()}
	for _, b := range gm.Buckets {
		w.Buckets = append(w.Buckets, wireBucket{
			Weight:     b.Weight,
			WatchPort:  b.WatchPort,
			WatchGroup: b.WatchGroup,
			Actions:    encodeActions(b.Actions),
		})
	}
	return w
}

func encodePacketOut(po *openflow.PacketOut) wirePacketOut {
	return wirePacketOut{
		BufferID: po.BufferID,
		InPort:   po.InPort,
		Actions:  encodeActions(po.Actions),
		Data:     po.Data,
	}
}

func encodePortMod(pm *openflow.PortMod) wirePortMod {
	return wirePortMod{
		PortNo:    pm.PortNo,
		HWAddr:    macString(pm.HWAddr),
		Config:    pm.Config,
		Mask:      pm.Mask,
		Advertise: pm.Advertise,
	}
}
