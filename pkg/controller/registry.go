package controller

import (
	"sync"
	"time"

	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
)

// Device is a connected forwarding device.
type Device struct {
	DPID        uint64
	Name        string
	Role        fabric.Role
	Datapath    openflow.Datapath
	Features    openflow.Features
	ConnectedAt time.Time
}

// Registry holds the connected devices in connect order.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint64]*Device
	order   []uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[uint64]*Device)}
}

// Add registers d. A device that reconnects moves to the end of the connect
// order. Returns true if an existing entry was replaced.
func (r *Registry) Add(d *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.devices[d.DPID]
	if replaced {
		r.removeOrder(d.DPID)
	}
	r.devices[d.DPID] = d
	r.order = append(r.order, d.DPID)
	return replaced
}

// Remove unregisters dpid and returns the removed entry.
func (r *Registry) Remove(dpid uint64) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[dpid]
	if !ok {
		return nil, false
	}
	delete(r.devices, dpid)
	r.removeOrder(dpid)
	return d, true
}

func (r *Registry) removeOrder(dpid uint64) {
	for i, id := range r.order {
		if id == dpid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Get returns the device registered under dpid.
func (r *Registry) Get(dpid uint64) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[dpid]
	return d, ok
}

// List returns all devices in connect order.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// ByRole returns the devices with the given role in connect order.
func (r *Registry) ByRole(role fabric.Role) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Device
	for _, id := range r.order {
		if d := r.devices[id]; d.Role == role {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of connected devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
