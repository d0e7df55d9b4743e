package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"match-beacon/internal/events"
	"match-beacon/internal/world"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MainLoop runs fn on the game's main loop and waits for it.
type MainLoop interface {
	Do(ctx context.Context, fn func()) error
}

type EventDispatcher interface {
	Dispatch(ev events.Event) bool
}

// SimHandlers drive the in-memory world: they stand in for the game client
// so a match can be played end to end against a real match service.
type SimHandlers struct {
	sim    *world.Sim
	main   MainLoop
	events EventDispatcher
}

func NewSimHandlers(sim *world.Sim, main MainLoop, ev EventDispatcher) *SimHandlers {
	return &SimHandlers{sim: sim, main: main, events: ev}
}

type joinRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *SimHandlers) Players() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": h.sim.OnlinePlayers(), "arenas": h.sim.Arenas()})
	}
}

func (h *SimHandlers) Join() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body joinRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if body.Name == "" {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		id := uuid.New()
		if body.ID != "" {
			parsed, err := uuid.Parse(body.ID)
			if err != nil {
				WriteHTTPError(w, http.StatusBadRequest, "invalid_player_id")
				return
			}
			id = parsed
		}
		var p world.Player
		if !h.run(w, r, func() { p = h.sim.Join(id, body.Name) }) {
			return
		}
		metricSimEvents.WithLabelValues("join").Inc()
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *SimHandlers) Admit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := playerParam(w, r)
		if !ok {
			return
		}
		var body struct {
			MatchID string `json:"matchId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MatchID == "" {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		if !h.run(w, r, func() { h.sim.Admit(id, body.MatchID) }) {
			return
		}
		metricSimEvents.WithLabelValues("admit").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// Kill applies a death and dispatches it in the same main-loop task, so
// handlers see the dead player before any respawn.
func (h *SimHandlers) Kill() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := playerParam(w, r)
		if !ok {
			return
		}
		var body struct {
			KillerID string `json:"killerId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		killer, _ := uuid.Parse(body.KillerID)

		var err error
		if !h.run(w, r, func() {
			if err = h.sim.Kill(id, killer); err != nil {
				return
			}
			h.events.Dispatch(events.Event{Kind: events.KindDeath, PlayerID: id, KillerID: killer})
		}) {
			return
		}
		if writeWorldError(w, err) {
			return
		}
		metricSimEvents.WithLabelValues("death").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// Quit dispatches the disconnect before the player leaves the world.
func (h *SimHandlers) Quit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := playerParam(w, r)
		if !ok {
			return
		}
		var online bool
		if !h.run(w, r, func() {
			if _, online = h.sim.Player(id); !online {
				return
			}
			h.events.Dispatch(events.Event{Kind: events.KindQuit, PlayerID: id})
			h.sim.Quit(id)
		}) {
			return
		}
		if !online {
			WriteHTTPError(w, http.StatusNotFound, "player_offline")
			return
		}
		metricSimEvents.WithLabelValues("quit").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (h *SimHandlers) Respawn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.apply(w, r, "respawn", h.sim.Respawn)
	}
}

func (h *SimHandlers) Move() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pos world.Vec3
		if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		h.apply(w, r, "move", func(id uuid.UUID) error { return h.sim.Move(id, pos) })
	}
}

func (h *SimHandlers) Equip() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Slot     world.Slot `json:"slot"`
			Material string     `json:"material"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Slot == "" {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		h.apply(w, r, "equip", func(id uuid.UUID) error { return h.sim.Equip(id, body.Slot, body.Material) })
	}
}

func (h *SimHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Health float64 `json:"health"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		h.apply(w, r, "health", func(id uuid.UUID) error { return h.sim.SetHealth(id, body.Health) })
	}
}

// apply runs fn for the path's player on the main loop.
func (h *SimHandlers) apply(w http.ResponseWriter, r *http.Request, kind string, fn func(id uuid.UUID) error) {
	id, ok := playerParam(w, r)
	if !ok {
		return
	}
	var err error
	if !h.run(w, r, func() { err = fn(id) }) {
		return
	}
	if writeWorldError(w, err) {
		return
	}
	metricSimEvents.WithLabelValues(kind).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *SimHandlers) run(w http.ResponseWriter, r *http.Request, fn func()) bool {
	if err := h.main.Do(r.Context(), fn); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("sim_main_loop_timeout")
		WriteHTTPError(w, http.StatusServiceUnavailable, "main_loop_unavailable")
		return false
	}
	return true
}

func playerParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "player_id"))
	if err != nil {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_player_id")
		return uuid.Nil, false
	}
	return id, true
}

func writeWorldError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, world.ErrPlayerOffline):
		WriteHTTPError(w, http.StatusNotFound, "player_offline")
	default:
		WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
	}
	return true
}
