package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// MonitoringRoleGaugeVec is the gauge-vec metric in prometheus
	// that holds the current monitoring role of the daemon.
	MonitoringRoleGaugeVec = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repmgrd_monitoring_role",
			Help: "the monitoring role of repmgrd",
		},
		[]string{"role"},
	)
	// FailoverStateTransitionCounterVec is the counter-vec metric in
	// prometheus that counts failover state transitions.
	FailoverStateTransitionCounterVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repmgrd_failover_state_transition_count",
			Help: "the counter of failover state transitions",
		},
		[]string{"state"},
	)
	// ElectionCounterVec is the counter-vec metric in prometheus
	// that counts elections by result.
	ElectionCounterVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repmgrd_election_count",
			Help: "the counter of elections run by this node",
		},
		[]string{"result"},
	)
)

func init() {
	MonitoringRoleGaugeVec.WithLabelValues(string(RoleNone)).Set(1)
	MonitoringRoleGaugeVec.WithLabelValues(string(RolePrimaryMonitor)).Set(0)
	MonitoringRoleGaugeVec.WithLabelValues(string(RoleStandbyMonitor)).Set(0)
}

func NewPrometheusMetricRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		// Go runtime metric collector
		collectors.NewGoCollector(),
		// process metric collector
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		// repmgrd
		MonitoringRoleGaugeVec,
		FailoverStateTransitionCounterVec,
		ElectionCounterVec,
	)
	return reg
}
