package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_registry_active_matches",
		Help: "Matches with a live arena owned by this process.",
	})
	metricMatchesEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_registry_matches_ended_total",
		Help: "Matches that entered the ending sequence.",
	})
	metricFinishUpdateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_registry_finish_update_failures_total",
		Help: "Failed attempts to report a match as finished.",
	})
	metricFinishPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_registry_finish_pending",
		Help: "Ended matches the match service still lists as running.",
	})
)
