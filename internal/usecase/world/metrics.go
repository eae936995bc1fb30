package world

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSavesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "world",
		Name:      "saves_published_total",
		Help:      "Total number of published saves, per source (admin/host)",
	}, []string{"source"})
	metricSaveObjects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "worldhost",
		Subsystem: "world",
		Name:      "save_objects",
		Help:      "Number of objects in the current save",
	})
	metricUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldhost",
		Subsystem: "world",
		Name:      "uploads_total",
		Help:      "Total number of object uploads, per result",
	}, []string{"result"})
)
