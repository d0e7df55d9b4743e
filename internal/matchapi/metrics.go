package matchapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_matchapi_requests_total",
		Help: "Calls to the match service by operation and result.",
	}, []string{"op", "result"})
	metricCircuitOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_matchapi_circuit_opened_total",
		Help: "Times the match service circuit opened.",
	})
)
