package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeExecuted = "executed"
	outcomeCached   = "cached"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

type metrics struct {
	tasks     *prometheus.CounterVec
	cacheHits prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		tasks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dagframe_workflow_tasks_total",
			Help: "Total number of workflow tasks by role and outcome",
		}, []string{"role", "outcome"}),
		cacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dagframe_workflow_cache_hits_total",
			Help: "Total number of tasks whose result was reused from a task of the same identity",
		}),
	}
}
