package httptransport

import (
	"net/http"
	"sort"

	"match-beacon/internal/world"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	// Store is nil when no database is configured.
	Store      Pinger
	Registry   MatchLister
	Telemetry  TelemetryView
	Rejections RejectionLister
	// Queue is optional.
	Queue      QueueDepth

	// Sim enables the /api/sim routes.
	Sim      *world.Sim
	MainLoop MainLoop
	Events   EventDispatcher
	AdminKey string
}

func NewRouter(d Deps) *chi.Mux {
	ops := NewOpsHandlers(d.Store, d.Registry, d.Telemetry, d.Rejections, d.Queue)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware(false)).Get("/healthz", ops.Health())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(APILogMiddleware(false)).Get("/matches", ops.Matches())

		if d.Sim == nil {
			return
		}
		sim := NewSimHandlers(d.Sim, d.MainLoop, d.Events)
		r.Route("/sim", func(r chi.Router) {
			r.Use(APILogMiddleware(true))
			r.Use(AdminAuthMiddleware(d.AdminKey))
			r.Get("/players", sim.Players())
			r.Post("/players", sim.Join())
			r.Post("/players/{player_id}/admit", sim.Admit())
			r.Post("/players/{player_id}/kill", sim.Kill())
			r.Post("/players/{player_id}/quit", sim.Quit())
			r.Post("/players/{player_id}/respawn", sim.Respawn())
			r.Post("/players/{player_id}/move", sim.Move())
			r.Post("/players/{player_id}/equip", sim.Equip())
			r.Post("/players/{player_id}/health", sim.Health())
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteHTTPError(w, http.StatusNotFound, "not_found")
	})
	return r
}

// LogRoutes writes the route table to the log at startup.
func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	var defs []routeDef
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		defs = append(defs, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk_routes_failed")
		return
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Path == defs[j].Path {
			return defs[i].Method < defs[j].Method
		}
		return defs[i].Path < defs[j].Path
	})
	routes := make([]string, 0, len(defs))
	for _, d := range defs {
		routes = append(routes, d.Method+" "+d.Path)
	}
	log.Info().Int("count", len(routes)).Strs("routes", routes).Msg("http_routes_registered")
}
