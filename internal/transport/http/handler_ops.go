package httptransport

import (
	"context"
	"net/http"
	"time"

	"match-beacon/internal/orchestrator"
	"match-beacon/internal/registry"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type MatchLister interface {
	Matches() []registry.Entry
}

type TelemetryView interface {
	TrackedMatches() []string
	PendingFinals() int
}

type RejectionLister interface {
	Rejections() []orchestrator.Rejection
}

// QueueDepth reports main-loop tasks waiting for the next tick.
type QueueDepth interface {
	Pending() int
}

type OpsHandlers struct {
	store      Pinger
	registry   MatchLister
	telemetry  TelemetryView
	rejections RejectionLister
	queue      QueueDepth
	startedAt  time.Time
}

// NewOpsHandlers builds the operator read handlers. st and queue may be nil.
func NewOpsHandlers(st Pinger, reg MatchLister, tel TelemetryView, rej RejectionLister, queue QueueDepth) *OpsHandlers {
	return &OpsHandlers{store: st, registry: reg, telemetry: tel, rejections: rej, queue: queue, startedAt: time.Now()}
}

func (h *OpsHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.store == nil {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "disabled"})
			return
		}
		if err := h.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}

func (h *OpsHandlers) Matches() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"items":          h.registry.Matches(),
			"tracked":        h.telemetry.TrackedMatches(),
			"pending_finals": h.telemetry.PendingFinals(),
			"rejected":       h.rejections.Rejections(),
			"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		}
		if h.queue != nil {
			body["main_loop_pending"] = h.queue.Pending()
		}
		writeJSON(w, http.StatusOK, body)
	}
}
