package controller

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/newtron-network/newtflow/pkg/openflow"
)

// Metrics holds the controller's Prometheus collectors.
type Metrics struct {
	packetIns  *prometheus.CounterVec
	packetOuts prometheus.Counter
	flows      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	pathSwaps  prometheus.Counter
	pathActive prometheus.Gauge
	portSync   *prometheus.CounterVec
	devices    prometheus.Gauge
	learned    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetIns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newtflow_packet_ins_total",
				Help: "Packet-in notifications handled, by outcome",
			},
			[]string{"outcome"},
		),
		packetOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newtflow_packet_outs_total",
			Help: "Packet-out operations issued",
		}),
		flows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newtflow_flows_installed_total",
				Help: "Forwarding rules installed, by kind",
			},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newtflow_operation_failures_total",
				Help: "Outbound operations the transport rejected, by operation",
			},
			[]string{"op"},
		),
		pathSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newtflow_path_swaps_total",
			Help: "Path-switch ticks that installed an egress rule",
		}),
		pathActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newtflow_path_a_active",
			Help: "1 when alternative A is next to be installed",
		}),
		portSync: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newtflow_port_sync_total",
				Help: "Port-sync transitions, by result",
			},
			[]string{"result"},
		),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newtflow_devices_connected",
			Help: "Devices currently registered",
		}),
		learned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newtflow_learned_addresses",
			Help: "Learned addresses across all devices",
		}),
	}

	reg.MustRegister(
		m.packetIns,
		m.packetOuts,
		m.flows,
		m.failures,
		m.pathSwaps,
		m.pathActive,
		m.portSync,
		m.devices,
		m.learned,
	)
	return m
}

func (m *Metrics) packetIn(o Outcome) {
	m.packetIns.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) flowInstalled(kind RuleKind) {
	m.flows.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) failure(op openflow.OpKind) {
	m.failures.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) setPathActive(activeA bool) {
	if activeA {
		m.pathActive.Set(1)
	} else {
		m.pathActive.Set(0)
	}
}
