// Package orchestrator polls the match service and drives matches from
// Queuing to a running arena, recovering matches already Playing that this
// process does not own.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"match-beacon/internal/match"
	"match-beacon/internal/matchapi"
	"match-beacon/internal/world"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	defaultInterval = 5 * time.Second
	defaultTimeout  = 5 * time.Second

	StartedMessage    = "Match started. Good luck!"
	NotStartedMessage = "Match not started: the arena could not be created."
)

var (
	ErrUnsupportedShape = errors.New("team shape not supported")
	ErrPlayersMissing   = errors.New("players not connected")
	ErrInfoMissing      = errors.New("match info missing")
)

type API interface {
	ListMatches(ctx context.Context, statuses ...match.Status) ([]match.Match, error)
	Acknowledge(ctx context.Context, matchID string) error
	Readiness(ctx context.Context, matchIDs []string) (map[string]match.Readiness, error)
	Tokens(ctx context.Context, matchIDs []string) (map[string][]match.Token, error)
	Info(ctx context.Context, matchIDs []string) (map[string]match.Info, error)
	Update(ctx context.Context, updates []matchapi.Update) error
}

type Registry interface {
	HasMatch(matchID string) bool
	RegisterMatch(matchID, worldName string, players []uuid.UUID)
	Finishing(matchID string) bool
	RetryFinished(ctx context.Context, active []string)
}

type Telemetry interface {
	RegisterPlayerInMatch(playerID uuid.UUID, matchID string)
}

// MainLoop hands work to the main loop. Submit returns at once; Do waits.
type MainLoop interface {
	Submit(fn func())
	Do(ctx context.Context, fn func()) error
}

type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
}

// Rejection records why a match will not be started automatically.
type Rejection struct {
	MatchID string    `json:"matchId"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

type Orchestrator struct {
	cfg       Config
	api       API
	registry  Registry
	telemetry Telemetry
	world     world.World
	main      MainLoop

	mu       sync.Mutex
	inFlight map[string]struct{}
	rejected map[string]Rejection
}

func New(cfg Config, api API, reg Registry, tel Telemetry, w world.World, main MainLoop) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	return &Orchestrator{
		cfg:       cfg,
		api:       api,
		registry:  reg,
		telemetry: tel,
		world:     w,
		main:      main,
		inFlight:  map[string]struct{}{},
		rejected:  map[string]Rejection{},
	}
}

// Run polls until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	log.Info().Dur("interval", o.cfg.Interval).Msg("orchestrator_started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Rejections lists matches left unstarted because of invalid external data.
func (o *Orchestrator) Rejections() []Rejection {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := lo.Values(o.rejected)
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// Tick runs one polling pass. Failures are scoped to a single match or call
// and never abort the pass.
func (o *Orchestrator) Tick(ctx context.Context) {
	matches, err := o.listActionable(ctx)
	if err != nil {
		metricTicks.WithLabelValues("list_failed").Inc()
		log.Warn().Err(err).Msg("orchestrator_list_failed")
		return
	}
	metricTicks.WithLabelValues("ok").Inc()

	byID := lo.KeyBy(matches, func(m match.Match) string { return m.ID })
	o.pruneRejected(byID)
	o.registry.RetryFinished(ctx, lo.Keys(byID))

	var waiting, playing []string
	for _, m := range matches {
		if o.skip(m.ID) {
			continue
		}
		switch m.Status {
		case match.StatusQueuing:
			if err := o.acknowledge(ctx, m.ID); err != nil {
				log.Warn().Err(err).Str("match_id", m.ID).Msg("orchestrator_acknowledge_failed")
				continue
			}
			waiting = append(waiting, m.ID)
		case match.StatusWaiting:
			waiting = append(waiting, m.ID)
		case match.StatusPlaying:
			playing = append(playing, m.ID)
		}
	}

	ready := o.readyMatches(ctx, lo.Uniq(waiting))
	o.start(ctx, ready, byID, "ready")

	for _, id := range playing {
		o.start(ctx, []string{id}, byID, "recovery")
	}
}

func (o *Orchestrator) listActionable(ctx context.Context) ([]match.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	all, err := o.api.ListMatches(ctx, match.ActionableStatuses...)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(m match.Match, _ int) bool { return m.ID != "" && m.Status.Actionable() }), nil
}

// skip reports matches owned locally, being started, rejected earlier or
// ended here but still listed as running by the service.
func (o *Orchestrator) skip(matchID string) bool {
	o.mu.Lock()
	_, inFlight := o.inFlight[matchID]
	_, rejected := o.rejected[matchID]
	o.mu.Unlock()
	return inFlight || rejected || o.registry.HasMatch(matchID) || o.registry.Finishing(matchID)
}

// pruneRejected forgets rejections for matches the service no longer lists.
func (o *Orchestrator) pruneRejected(listed map[string]match.Match) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.rejected {
		if _, ok := listed[id]; !ok {
			delete(o.rejected, id)
		}
	}
}

func (o *Orchestrator) acknowledge(ctx context.Context, matchID string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	if err := o.api.Acknowledge(ctx, matchID); err != nil {
		return err
	}
	metricAcknowledged.Inc()
	log.Info().Str("match_id", matchID).Msg("orchestrator_match_acknowledged")
	return nil
}

func (o *Orchestrator) readyMatches(ctx context.Context, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	readiness, err := o.api.Readiness(rctx, ids)
	if err != nil {
		log.Warn().Err(err).Strs("match_ids", ids).Msg("orchestrator_readiness_failed")
		return nil
	}
	var ready []string
	for _, id := range ids {
		r, ok := readiness[id]
		if !ok {
			log.Debug().Str("match_id", id).Msg("orchestrator_readiness_missing")
			continue
		}
		if r.TotalTokens == 0 {
			if r.Ready {
				log.Warn().Str("match_id", id).Msg("orchestrator_ready_without_tokens")
			}
			continue
		}
		if !r.Startable() {
			log.Debug().Str("match_id", id).Int("remaining_tokens", r.Remaining()).Msg("orchestrator_match_not_ready")
			continue
		}
		ready = append(ready, id)
	}
	return ready
}

type startPlan struct {
	matchID string
	blue    uuid.UUID
	red     uuid.UUID
}

// start resolves teams for ids and hands the arena setup to the main loop.
// The ready path also moves the matches to Playing; recovery does not.
func (o *Orchestrator) start(ctx context.Context, ids []string, byID map[string]match.Match, path string) {
	if len(ids) == 0 {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	tokens, err := o.api.Tokens(tctx, ids)
	if err != nil {
		metricStartFailures.Inc()
		log.Warn().Err(err).Strs("match_ids", ids).Msg("orchestrator_tokens_failed")
		return
	}
	info, err := o.api.Info(tctx, ids)
	if err != nil {
		metricStartFailures.Inc()
		log.Warn().Err(err).Strs("match_ids", ids).Msg("orchestrator_info_failed")
		return
	}

	var candidates []teamTokens
	for _, id := range ids {
		tt, err := splitTeams(byID[id], info, tokens[id])
		if err != nil {
			o.handleStartError(id, err)
			continue
		}
		candidates = append(candidates, tt)
	}
	plans := o.resolvePlayers(tctx, candidates)
	if len(plans) == 0 {
		return
	}

	if path == "ready" {
		updates := lo.Map(plans, func(p startPlan, _ int) matchapi.Update {
			return matchapi.Update{MatchID: p.matchID, Status: match.StatusPlaying}
		})
		if err := o.api.Update(tctx, updates); err != nil {
			metricStartFailures.Inc()
			log.Warn().Err(err).Int("matches", len(plans)).Msg("orchestrator_playing_update_failed")
			return
		}
	}

	for _, p := range plans {
		o.mu.Lock()
		o.inFlight[p.matchID] = struct{}{}
		o.mu.Unlock()
		log.Info().
			Str("match_id", p.matchID).
			Str("path", path).
			Str("blue_player_id", p.blue.String()).
			Str("red_player_id", p.red.String()).
			Msg("orchestrator_match_starting")
		o.main.Submit(func() { o.materialize(p, path) })
	}
}

type teamTokens struct {
	matchID string
	blue    []match.Token
	red     []match.Token
}

// splitTeams partitions a match's tokens by team and enforces the 1v1 shape.
func splitTeams(m match.Match, info map[string]match.Info, tokens []match.Token) (teamTokens, error) {
	id := m.ID
	inf, ok := info[id]
	if !ok {
		return teamTokens{}, ErrInfoMissing
	}
	blueTeam := lo.Ternary(inf.BlueTeamID != "", inf.BlueTeamID, m.BlueTeamID)
	redTeam := lo.Ternary(inf.RedTeamID != "", inf.RedTeamID, m.RedTeamID)

	tt := teamTokens{matchID: id}
	for _, t := range tokens {
		switch t.GameTeamID {
		case blueTeam:
			tt.blue = append(tt.blue, t)
		case redTeam:
			tt.red = append(tt.red, t)
		default:
			log.Warn().Str("match_id", id).Str("game_team_id", t.GameTeamID).Msg("orchestrator_token_unknown_team")
		}
	}
	if per := match.TokensPerTeam(m.Type); m.Type != "" && per != 1 {
		return tt, fmt.Errorf("%w: %s has %d tokens per team", ErrUnsupportedShape, m.Type, per)
	}
	if len(tt.blue) != 1 || len(tt.red) != 1 {
		return tt, fmt.Errorf("%w: %d blue and %d red tokens", ErrUnsupportedShape, len(tt.blue), len(tt.red))
	}
	return tt, nil
}

// resolvePlayers maps consumed tokens to connected players on the main loop.
func (o *Orchestrator) resolvePlayers(ctx context.Context, candidates []teamTokens) []startPlan {
	if len(candidates) == 0 {
		return nil
	}
	type result struct {
		plan startPlan
		err  error
	}
	results := make([]result, len(candidates))
	err := o.main.Do(ctx, func() {
		for i, c := range candidates {
			blue, berr := o.connectedPlayer(c.matchID, c.blue[0])
			red, rerr := o.connectedPlayer(c.matchID, c.red[0])
			results[i] = result{
				plan: startPlan{matchID: c.matchID, blue: blue, red: red},
				err:  errors.Join(berr, rerr),
			}
		}
	})
	if err != nil {
		metricStartFailures.Inc()
		log.Warn().Err(err).Msg("orchestrator_player_lookup_failed")
		return nil
	}
	var plans []startPlan
	for _, r := range results {
		if r.err != nil {
			o.handleStartError(r.plan.matchID, r.err)
			continue
		}
		plans = append(plans, r.plan)
	}
	return plans
}

func (o *Orchestrator) connectedPlayer(matchID string, t match.Token) (uuid.UUID, error) {
	if !t.Used() {
		return uuid.Nil, fmt.Errorf("%w: token for team %s not consumed", ErrPlayersMissing, t.GameTeamID)
	}
	id, err := uuid.Parse(t.UserID)
	if err != nil {
		log.Warn().Str("match_id", matchID).Str("user_id", t.UserID).Msg("orchestrator_token_user_invalid")
		return uuid.Nil, fmt.Errorf("%w: user %q", ErrPlayersMissing, t.UserID)
	}
	if _, ok := o.world.Player(id); !ok {
		return uuid.Nil, fmt.Errorf("%w: %s offline", ErrPlayersMissing, id)
	}
	return id, nil
}

func (o *Orchestrator) handleStartError(matchID string, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedShape):
		o.mu.Lock()
		o.rejected[matchID] = Rejection{MatchID: matchID, Reason: err.Error(), At: time.Now()}
		o.mu.Unlock()
		metricRejected.WithLabelValues("team_shape").Inc()
		log.Warn().Err(err).Str("match_id", matchID).Msg("orchestrator_team_shape_not_supported")
	default:
		metricStartFailures.Inc()
		log.Warn().Err(err).Str("match_id", matchID).Msg("orchestrator_start_deferred")
	}
}

// materialize runs on the main loop.
func (o *Orchestrator) materialize(p startPlan, path string) {
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, p.matchID)
		o.mu.Unlock()
	}()
	if o.registry.HasMatch(p.matchID) {
		log.Warn().Str("match_id", p.matchID).Msg("orchestrator_match_already_registered")
		return
	}
	worldName, err := o.world.CreateArena(p.blue, p.red)
	if err != nil {
		metricStartFailures.Inc()
		log.Error().Err(err).Str("match_id", p.matchID).Msg("orchestrator_arena_failed")
		o.world.SendMessage(p.blue, NotStartedMessage)
		o.world.SendMessage(p.red, NotStartedMessage)
		return
	}
	o.registry.RegisterMatch(p.matchID, worldName, []uuid.UUID{p.blue, p.red})
	o.telemetry.RegisterPlayerInMatch(p.blue, p.matchID)
	o.telemetry.RegisterPlayerInMatch(p.red, p.matchID)
	o.world.SendMessage(p.blue, StartedMessage)
	o.world.SendMessage(p.red, StartedMessage)
	metricStarted.WithLabelValues(path).Inc()
	log.Info().Str("match_id", p.matchID).Str("world", worldName).Str("path", path).Msg("orchestrator_match_started")
}
