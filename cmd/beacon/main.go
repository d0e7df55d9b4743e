package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-beacon/internal/config"
	"match-beacon/internal/events"
	"match-beacon/internal/logging"
	"match-beacon/internal/matchapi"
	"match-beacon/internal/orchestrator"
	"match-beacon/internal/registry"
	"match-beacon/internal/scheduler"
	"match-beacon/internal/store"
	"match-beacon/internal/telemetry"
	httptransport "match-beacon/internal/transport/http"
	"match-beacon/internal/world"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(cfg.Log); err != nil {
		panic(err)
	}
	srv := cfg.Server

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st     *store.Store
		outbox telemetry.Outbox
		pinger httptransport.Pinger
	)
	if srv.PostgresDSN != "" {
		st, err = store.New(srv.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("store_init_failed")
		}
		defer st.Close()
		if err := st.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("db_ping_failed")
		}
		if err := st.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("db_migrate_failed")
		}
		outbox, pinger = st, st
	} else {
		log.Warn().Msg("POSTGRES_DSN not set; undelivered final snapshots are kept in memory only")
	}

	api := matchapi.New(srv.MatchAPIURL, srv.MatchAPISecret, srv.RequestTimeout).
		WithBreaker(srv.BreakerThreshold, srv.BreakerOpen)
	sched := scheduler.New(srv.MainTick)
	defer sched.Close()
	sim := world.NewSim(srv.LobbyWorld)

	tel := telemetry.New(telemetry.Config{
		Interval:       srv.TelemetryInterval,
		RequestTimeout: srv.RequestTimeout,
	}, api, sim, sched, outbox)
	reg := registry.New(registry.Config{
		TeardownDelay:  srv.TeardownDelay,
		RequestTimeout: srv.RequestTimeout,
	}, api, tel, sim, sched)
	orch := orchestrator.New(orchestrator.Config{
		Interval:       srv.PollInterval,
		RequestTimeout: srv.RequestTimeout,
	}, api, reg, tel, sim, sched)

	dispatcher := events.NewDispatcher()
	(&events.MatchHandlers{
		Registry:       reg,
		Telemetry:      tel,
		World:          sim,
		Admissions:     sim,
		Tokens:         api,
		Workers:        sched,
		RequestTimeout: srv.RequestTimeout,
	}).Register(dispatcher)
	log.Info().Strs("kinds", dispatcher.Kinds()).Msg("event_handlers_registered")

	go sched.Run(ctx)
	if err := tel.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("telemetry_start_failed")
	}
	sched.Go(orch.Run)

	r := httptransport.NewRouter(httptransport.Deps{
		Store:      pinger,
		Registry:   reg,
		Telemetry:  tel,
		Rejections: orch,
		Sim:        sim,
		MainLoop:   sched,
		Queue:      sched,
		Events:     dispatcher,
		AdminKey:   srv.AdminAPIKey,
	})
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              srv.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", srv.HTTPAddr).
		Str("match_api", srv.MatchAPIURL).
		Dur("poll_interval", srv.PollInterval).
		Dur("telemetry_interval", srv.TelemetryInterval).
		Bool("outbox_persistent", st != nil).
		Msg("beacon_started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server_stopped")
	}
	log.Info().Msg("beacon_stopped")
}
