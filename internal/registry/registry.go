// Package registry maps external match identity to the local arena and the
// players inside it, and runs the match-ending sequence.
package registry

import (
	"context"
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
	defaultTeardownDelay = 3 * time.Second
	defaultTimeout       = 5 * time.Second

	EndedMessage = "Match ended! You have been returned to the lobby."
)

type Updater interface {
	Update(ctx context.Context, updates []matchapi.Update) error
}

type Telemetry interface {
	QueueFinalMatchState(matchID string, winner uuid.UUID) bool
	UnregisterPlayer(playerID uuid.UUID)
}

// Scheduler hands work to background workers and delayed work to the main loop.
type Scheduler interface {
	Go(fn func(ctx context.Context))
	After(d time.Duration, fn func()) *time.Timer
}

type Config struct {
	TeardownDelay  time.Duration
	RequestTimeout time.Duration
}

// Entry describes a running match.
type Entry struct {
	MatchID   string      `json:"matchId"`
	WorldName string      `json:"worldName"`
	Players   []uuid.UUID `json:"players"`
	StartedAt time.Time   `json:"startedAt"`
	Ending    bool        `json:"ending"`
}

type entry struct {
	worldName string
	players   []uuid.UUID
	startedAt time.Time
	ending    bool
}

// finishState is a Finished update the match service has not yet reported
// back as terminal.
type finishState struct {
	update   matchapi.Update
	accepted bool
}

type Registry struct {
	cfg       Config
	api       Updater
	telemetry Telemetry
	world     world.World
	sched     Scheduler

	mu            sync.RWMutex
	matches       map[string]*entry
	playerToMatch map[uuid.UUID]string
	finishing     map[string]*finishState
}

func New(cfg Config, api Updater, tel Telemetry, w world.World, sched Scheduler) *Registry {
	if cfg.TeardownDelay <= 0 {
		cfg.TeardownDelay = defaultTeardownDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	return &Registry{
		cfg:           cfg,
		api:           api,
		telemetry:     tel,
		world:         w,
		sched:         sched,
		matches:       map[string]*entry{},
		playerToMatch: map[uuid.UUID]string{},
		finishing:     map[string]*finishState{},
	}
}

// RegisterMatch records a match whose arena exists with players inside. Callers
// must check HasMatch first; registering a known match replaces it.
func (r *Registry) RegisterMatch(matchID, worldName string, players []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.matches[matchID]; ok {
		log.Warn().Str("match_id", matchID).Str("world", old.worldName).Msg("registry_match_replaced")
		for _, p := range old.players {
			delete(r.playerToMatch, p)
		}
	}
	r.matches[matchID] = &entry{
		worldName: worldName,
		players:   append([]uuid.UUID(nil), players...),
		startedAt: time.Now(),
	}
	for _, p := range players {
		r.playerToMatch[p] = matchID
	}
	metricActiveMatches.Set(float64(len(r.matches)))
	log.Info().Str("match_id", matchID).Str("world", worldName).Int("players", len(players)).Msg("registry_match_registered")
}

func (r *Registry) MatchIDForPlayer(playerID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.playerToMatch[playerID]
	return id, ok
}

func (r *Registry) WorldNameForMatch(matchID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.matches[matchID]
	if !ok {
		return "", false
	}
	return e.worldName, true
}

// PlayersInMatch returns nil for an unknown match.
func (r *Registry) PlayersInMatch(matchID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.matches[matchID]
	if !ok {
		return nil
	}
	return append([]uuid.UUID(nil), e.players...)
}

func (r *Registry) IsPlayerInMatch(playerID uuid.UUID) bool {
	_, ok := r.MatchIDForPlayer(playerID)
	return ok
}

func (r *Registry) HasMatch(matchID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.matches[matchID]
	return ok
}

// Matches lists every entry ordered by match id.
func (r *Registry) Matches() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.matches))
	for id, e := range r.matches {
		out = append(out, Entry{
			MatchID:   id,
			WorldName: e.worldName,
			Players:   append([]uuid.UUID(nil), e.players...),
			StartedAt: e.startedAt,
			Ending:    e.ending,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// EndMatch runs the ending sequence. It must be called on the main loop from
// the handler that detected the end, before the world changes: the final
// snapshot is taken synchronously, the Finished status is reported from a
// worker, and retried through RetryFinished until accepted. The arena is torn
// down on the main loop after TeardownDelay.
// winner may be uuid.Nil.
func (r *Registry) EndMatch(matchID string, winner uuid.UUID) {
	r.mu.Lock()
	e, ok := r.matches[matchID]
	if !ok {
		r.mu.Unlock()
		log.Warn().Str("match_id", matchID).Msg("registry_end_unknown_match")
		return
	}
	if e.ending {
		r.mu.Unlock()
		log.Warn().Str("match_id", matchID).Msg("registry_end_already_ending")
		return
	}
	e.ending = true
	upd := matchapi.Update{MatchID: matchID, Status: match.StatusFinished}
	if winner != uuid.Nil {
		upd.WinnerPlayerID = winner.String()
	}
	r.finishing[matchID] = &finishState{update: upd}
	metricFinishPending.Set(float64(len(r.finishing)))
	r.mu.Unlock()

	r.telemetry.QueueFinalMatchState(matchID, winner)
	metricMatchesEnded.Inc()

	r.sched.Go(func(ctx context.Context) {
		r.sendFinished(ctx, []matchapi.Update{upd})
	})

	r.sched.After(r.cfg.TeardownDelay, func() { r.teardown(matchID) })
}

// Finishing reports an ended match the match service may still list as
// running. It stays true after teardown until RetryFinished sees the match
// gone from the service's actionable list.
func (r *Registry) Finishing(matchID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.finishing[matchID]
	return ok
}

// RetryFinished resends Finished updates not yet accepted and forgets ended
// matches absent from active, the ids the service currently lists as
// actionable.
func (r *Registry) RetryFinished(ctx context.Context, active []string) {
	live := lo.SliceToMap(active, func(id string) (string, struct{}) { return id, struct{}{} })

	r.mu.Lock()
	var pending []matchapi.Update
	for id, fs := range r.finishing {
		if _, ok := live[id]; !ok {
			delete(r.finishing, id)
			log.Debug().Str("match_id", id).Bool("accepted", fs.accepted).Msg("registry_finish_settled")
			continue
		}
		if !fs.accepted {
			pending = append(pending, fs.update)
		}
	}
	metricFinishPending.Set(float64(len(r.finishing)))
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].MatchID < pending[j].MatchID })
	r.sendFinished(ctx, pending)
}

func (r *Registry) sendFinished(ctx context.Context, updates []matchapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	if err := r.api.Update(ctx, updates); err != nil {
		metricFinishUpdateFailures.Inc()
		log.Error().Err(err).Strs("match_ids", lo.Map(updates, func(u matchapi.Update, _ int) string { return u.MatchID })).Msg("registry_finish_update_failed")
		return
	}

	r.mu.Lock()
	for _, u := range updates {
		if fs, ok := r.finishing[u.MatchID]; ok {
			fs.accepted = true
		}
	}
	r.mu.Unlock()
	for _, u := range updates {
		log.Info().Str("match_id", u.MatchID).Str("winner_player_id", u.WinnerPlayerID).Msg("registry_match_finished")
	}
}

// teardown runs on the main loop.
func (r *Registry) teardown(matchID string) {
	r.mu.RLock()
	e, ok := r.matches[matchID]
	var (
		worldName string
		players   []uuid.UUID
	)
	if ok {
		worldName = e.worldName
		players = append([]uuid.UUID(nil), e.players...)
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	for _, p := range players {
		r.world.SendMessage(p, EndedMessage)
		if err := r.world.ReturnToLobby(p); err != nil {
			log.Error().Err(err).Str("match_id", matchID).Str("player_id", p.String()).Msg("registry_return_to_lobby_failed")
		}
	}
	if err := r.world.DeleteArena(worldName); err != nil {
		log.Error().Err(err).Str("match_id", matchID).Str("world", worldName).Msg("registry_delete_arena_failed")
	}
	for _, p := range players {
		r.telemetry.UnregisterPlayer(p)
	}

	r.mu.Lock()
	delete(r.matches, matchID)
	for _, p := range players {
		if r.playerToMatch[p] == matchID {
			delete(r.playerToMatch, p)
		}
	}
	metricActiveMatches.Set(float64(len(r.matches)))
	r.mu.Unlock()
	log.Info().Str("match_id", matchID).Str("world", worldName).Msg("registry_match_torn_down")
}
