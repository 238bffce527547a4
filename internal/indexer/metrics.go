package indexer

import "github.com/prometheus/client_golang/prometheus"

var JobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "personal",
	Subsystem: "indexer",
	Name:      "jobs_started_total",
}, []string{"variant", "color"})

var JobResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "personal",
	Subsystem: "indexer",
	Name:      "job_results_total",
}, []string{"status"})

var CoalescedCallers = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "personal",
	Subsystem: "indexer",
	Name:      "coalesced_callers_total",
	Help:      "Callers that attached to a job started by another caller",
})

var GamesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "personal",
	Subsystem: "indexer",
	Name:      "games_ingested_total",
}, []string{"result"})

var FetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "personal",
	Subsystem: "indexer",
	Name:      "fetch_retries_total",
})

var JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "personal",
	Subsystem: "indexer",
	Name:      "job_duration_seconds",
	Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
})

// Collectors returns the indexer metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{JobsStarted, JobResults, CoalescedCallers, GamesIngested, FetchRetries, JobDuration}
}
