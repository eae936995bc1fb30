package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "worldhost",
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of live sessions",
	})
	metricDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "session",
		Name:      "events_delivered_total",
		Help:      "Total number of events handed to waiting sessions",
	})
	metricLagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "session",
		Name:      "lagged_total",
		Help:      "Total number of sessions invalidated because they fell behind the event stream",
	})
)
