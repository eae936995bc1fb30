package monitor

import (
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHostPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "worldhost",
		Subsystem: "monitor",
		Name:      "host_phase",
		Help:      "Current host phase (1 for the active phase, 0 otherwise)",
	}, []string{"phase"})
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "monitor",
		Name:      "transitions_total",
		Help:      "Total number of host state transitions, per target phase",
	}, []string{"phase"})
	metricRejectedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "monitor",
		Name:      "rejected_events_total",
		Help:      "Total number of host events dropped by the monitor, per event type",
	}, []string{"event"})
	metricProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "monitor",
		Name:      "probes_total",
		Help:      "Total number of reachability probes, per result",
	}, []string{"result"})
)

var phases = []domain.HostPhase{domain.NoHost, domain.Loading, domain.Up, domain.Unreachable, domain.ShuttingDown}

func setPhaseMetric(current domain.HostPhase) {
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		metricHostPhase.WithLabelValues(string(p)).Set(v)
	}
}
