// Package audit records the controller's fabric-changing actions: device
// sessions, failover group installs, path swaps, and mirrored port
// enable/disable.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/newtflow/pkg/util"
)

// Event is one audited controller action.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Operation string    `json:"operation"`
	Port      uint32    `json:"port,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Operations recorded by the controller
const (
	OpDeviceConnect    = "device.connect"
	OpDeviceDisconnect = "device.disconnect"
	OpFailoverInstall  = "failover.install"
	OpPathSwap         = "path.swap"
	OpPortSyncDown     = "portsync.down"
	OpPortSyncUp       = "portsync.up"
)

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event for a device
func NewEvent(dpid uint64, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Device:    util.FormatDPID(dpid),
		Operation: operation,
	}
}

// WithPort sets the port the action concerns
func (e *Event) WithPort(port uint32) *Event {
	e.Port = port
	return e
}

// WithDetail sets a free-form description
func (e *Event) WithDetail(detail string) *Event {
	e.Detail = detail
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Match reports whether e satisfies every set criterion.
func (f Filter) Match(e *Event) bool {
	switch {
	case f.Device != "" && e.Device != f.Device:
		return false
	case f.Operation != "" && e.Operation != f.Operation:
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !e.Success, f.FailureOnly && e.Success:
		return false
	}
	return true
}

// page applies Offset then Limit.
func (f Filter) page(events []*Event) []*Event {
	if f.Offset > 0 {
		if f.Offset >= len(events) {
			return nil
		}
		events = events[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(events) {
		events = events[:f.Limit]
	}
	return events
}
