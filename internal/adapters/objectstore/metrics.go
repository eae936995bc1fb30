package objectstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricObjectsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "store",
		Name:      "objects_stored_total",
		Help:      "Total number of objects written to the store",
	})
	metricBytesStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "store",
		Name:      "bytes_stored_total",
		Help:      "Total number of object bytes written to the store",
	})
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "store",
		Name:      "cache_hits_total",
		Help:      "Total number of object loads served from the cache",
	})
)
