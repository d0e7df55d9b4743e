package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_orchestrator_ticks_total",
		Help: "Polling ticks by outcome.",
	}, []string{"outcome"})
	metricAcknowledged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_orchestrator_acknowledged_total",
		Help: "Queuing matches acknowledged.",
	})
	metricStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_orchestrator_matches_started_total",
		Help: "Matches materialised, by path (ready or recovery).",
	}, []string{"path"})
	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_orchestrator_matches_rejected_total",
		Help: "Matches left unstarted because of invalid external data, by reason.",
	}, []string{"reason"})
	metricStartFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_orchestrator_start_failures_total",
		Help: "Start attempts that failed and will be retried.",
	})
)
