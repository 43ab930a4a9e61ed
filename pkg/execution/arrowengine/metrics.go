package arrowengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	operations *prometheus.CounterVec
	partitions prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dagframe_engine_operations_total",
			Help: "Total number of backend operations run by the engine, memoized calls excluded",
		}, []string{"op"}),
		partitions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dagframe_engine_partitions_processed_total",
			Help: "Total number of partitions processed on the worker pool",
		}),
	}
}
