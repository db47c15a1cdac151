// Package controller is the decision-making core of newtflow. A single
// control loop serializes device notifications and routes them to the MAC
// learning engine, the failover group manager and the port-sync state
// machine. The path-switch scheduler runs beside it on its own clock.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
	"github.com/newtron-network/newtflow/pkg/util"
)

// DefaultQueueSize is the event queue depth used when Options leaves it unset.
const DefaultQueueSize = 256

// Options configures a Controller.
type Options struct {
	// Registry receives the controller's metrics. A private registry is
	// created when nil.
	Registry *prometheus.Registry
	// Audit records fabric-changing actions. Nil disables auditing.
	Audit     audit.Logger
	QueueSize int
}

// Controller owns the fabric state and the components acting on it.
type Controller struct {
	cfg     *fabric.Config
	reg     *prometheus.Registry
	metrics *Metrics
	audit   auditor
	events  chan openflow.Event

	devices  *Registry
	flows    *FlowInstaller
	learning *LearningEngine
	paths    *PathSwitcher
	failover *FailoverManager
	portsync *PortSync
}

// New builds a controller for a validated fabric config.
func New(cfg *fabric.Config, opts Options) *Controller {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	m := NewMetrics(reg)
	a := auditor{logger: opts.Audit}
	devices := NewRegistry()
	flows := NewFlowInstaller(m, devices)

	return &Controller{
		cfg:      cfg,
		reg:      reg,
		metrics:  m,
		audit:    a,
		events:   make(chan openflow.Event, size),
		devices:  devices,
		flows:    flows,
		learning: NewLearningEngine(flows, m),
		paths:    newPathSwitcher(cfg.PathSwitch, devices, flows, m, a),
		failover: newFailoverManager(cfg.Failover, flows, m, a),
		portsync: newPortSync(cfg.MirrorBindings, devices, m, a),
	}
}

// Config returns the fabric the controller was built for.
func (c *Controller) Config() *fabric.Config { return c.cfg }

// Gatherer exposes the controller's metrics.
func (c *Controller) Gatherer() prometheus.Gatherer { return c.reg }

func (c *Controller) Devices() *Registry { return c.devices }
func (c *Controller) Flows() *FlowInstaller { return c.flows }
func (c *Controller) Learning() *LearningEngine { return c.learning }
func (c *Controller) PathSwitch() *PathSwitcher { return c.paths }
func (c *Controller) Failover() *FailoverManager { return c.failover }
func (c *Controller) PortSync() *PortSync { return c.portsync }

// Submit queues a notification for the control loop, blocking while the
// queue is full.
func (c *Controller) Submit(ctx context.Context, ev openflow.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the event queue until ctx is cancelled. Handler errors are
// logged and never stop the loop.
func (c *Controller) Run(ctx context.Context) error {
	log := util.WithComponent("controller")
	log.Infof("control loop started (ha mode %s, %d mirror bindings)", c.cfg.HA.Mode, len(c.cfg.MirrorBindings))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			if err := c.Handle(ctx, ev); err != nil {
				log.Debugf("%T: %v", ev, err)
			}
		}
	}
}

// RunScheduler runs the path-switch scheduler in path-switch mode and waits
// for cancellation otherwise.
func (c *Controller) RunScheduler(ctx context.Context) error {
	if c.cfg.HA.Mode != fabric.ModePathSwitch {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.paths.Run(ctx)
}

// Handle processes one notification to completion.
func (c *Controller) Handle(ctx context.Context, ev openflow.Event) error {
	switch e := ev.(type) {
	case *openflow.ConnectEvent:
		return c.handleConnect(ctx, e)
	case *openflow.DisconnectEvent:
		return c.handleDisconnect(e)
	case *openflow.PacketInEvent:
		dev, err := c.lookup(e.DPID, "packet-in")
		if err != nil {
			c.metrics.packetIn(OutcomeUnknownDevice)
			return err
		}
		_, err = c.learning.OnPacketIn(ctx, dev, e)
		return err
	case *openflow.PortStatusEvent:
		if _, err := c.lookup(e.DPID, "port-status"); err != nil {
			return err
		}
		return c.portsync.OnPortStatus(ctx, e)
	case *openflow.PortDescReplyEvent:
		if _, err := c.lookup(e.DPID, "port description reply"); err != nil {
			return err
		}
		return c.portsync.OnPortDescReply(ctx, e)
	}
	return fmt.Errorf("unsupported event %T", ev)
}

func (c *Controller) lookup(dpid uint64, what string) (*Device, error) {
	dev, ok := c.devices.Get(dpid)
	if !ok {
		util.WithDevice(dpid).Warnf("discarding %s from unregistered device", what)
		return nil, fmt.Errorf("%s from %s: %w", what, util.FormatDPID(dpid), util.ErrUnknownDevice)
	}
	return dev, nil
}

func (c *Controller) handleConnect(ctx context.Context, e *openflow.ConnectEvent) error {
	if e.Datapath == nil {
		return fmt.Errorf("connect event without datapath")
	}
	dpid := e.Datapath.ID()
	spec, known := c.cfg.Device(dpid)
	if !known {
		spec = fabric.DeviceSpec{DPID: dpid, Name: fmt.Sprintf("s%d", dpid), Role: fabric.RoleUnassigned}
	}

	if _, ok := c.devices.Remove(dpid); ok {
		c.forget(dpid)
	}
	dev := &Device{
		DPID:        dpid,
		Name:        spec.Name,
		Role:        spec.Role,
		Datapath:    e.Datapath,
		Features:    e.Features,
		ConnectedAt: time.Now(),
	}
	c.devices.Add(dev)
	c.metrics.devices.Set(float64(c.devices.Len()))

	log := util.WithDevice(dpid)
	if known {
		log.Infof("device %s connected as %s", dev.Name, dev.Role)
	} else {
		log.Warnf("device not in inventory, connected as %s", dev.Role)
	}
	c.audit.log(audit.NewEvent(dpid, audit.OpDeviceConnect).WithDetail(string(dev.Role)).WithSuccess())

	var err error
	queried := false
	if c.cfg.HA.Mode == fabric.ModeFastFailover && dev.Role == fabric.RoleBundledIngress {
		err = c.failover.OnConnect(ctx, dev)
		queried = true
	} else {
		err = c.learning.InstallDefaults(ctx, dev)
	}

	if !queried && (c.cfg.IsMirrorTarget(dpid) || c.cfg.IsMirrorSource(dpid)) {
		if qerr := dev.Datapath.QueryPortDescriptions(ctx); qerr != nil {
			c.metrics.failure(openflow.OpQueryPorts)
			log.Warnf("port description request: %v", qerr)
			if err == nil {
				err = qerr
			}
		}
	}
	return err
}

func (c *Controller) handleDisconnect(e *openflow.DisconnectEvent) error {
	dev, ok := c.devices.Get(e.DPID)
	if !ok {
		util.WithDevice(e.DPID).Debugf("disconnect for unregistered device")
		return fmt.Errorf("disconnect of %s: %w", util.FormatDPID(e.DPID), util.ErrUnknownDevice)
	}
	c.devices.Remove(e.DPID)
	c.forget(e.DPID)
	c.metrics.devices.Set(float64(c.devices.Len()))
	util.WithDevice(e.DPID).Infof("device %s disconnected", dev.Name)
	c.audit.log(audit.NewEvent(e.DPID, audit.OpDeviceDisconnect).WithSuccess())
	return nil
}

// forget drops everything learned about dpid during its last connection.
// The device is unregistered first so a concurrent path-switch tick cannot
// record into the tables being dropped.
func (c *Controller) forget(dpid uint64) {
	c.learning.Forget(dpid)
	c.flows.Forget(dpid)
	c.failover.Forget(dpid)
	c.portsync.Forget(dpid)
}

// auditor logs to an optional audit.Logger.
type auditor struct {
	logger audit.Logger
}

func (a auditor) log(ev *audit.Event) {
	if a.logger == nil {
		return
	}
	if err := a.logger.Log(ev); err != nil {
		util.Warnf("audit: %v", err)
	}
}
