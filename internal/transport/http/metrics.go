package httptransport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricSimEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "beacon_http_sim_events_total",
	Help: "World events injected through the simulation API, by kind.",
}, []string{"kind"})
