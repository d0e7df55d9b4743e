package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSnapshotsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_telemetry_snapshots_sent_total",
		Help: "Match snapshots delivered to the match service, by kind.",
	}, []string{"kind"})
	metricSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_telemetry_send_failures_total",
		Help: "Batched telemetry updates rejected or not delivered.",
	})
	metricMatchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_telemetry_matches_dropped_total",
		Help: "Tracked matches dropped because the service reports them ended or unknown.",
	})
	metricTrackedMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_telemetry_tracked_matches",
		Help: "Matches currently tracked for periodic snapshots.",
	})
	metricPendingFinals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_telemetry_pending_finals",
		Help: "Final snapshots waiting for delivery.",
	})
)
