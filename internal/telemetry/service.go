// Package telemetry captures per-match player snapshots and delivers them to
// the match service, periodically while a match runs and once, as a final
// snapshot, when it ends.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"match-beacon/internal/match"
	"match-beacon/internal/matchapi"
	"match-beacon/internal/store"
	"match-beacon/internal/world"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	defaultInterval     = time.Second
	defaultTimeout      = 5 * time.Second
	defaultNearbyRadius = 20.0
)

// API is the part of the match service the capture loop talks to.
type API interface {
	Info(ctx context.Context, matchIDs []string) (map[string]match.Info, error)
	Update(ctx context.Context, updates []matchapi.Update) error
}

// Scheduler runs world reads on the game's main loop and the capture loop on
// a tracked background worker.
type Scheduler interface {
	Do(ctx context.Context, fn func()) error
	Go(fn func(ctx context.Context))
}

// Outbox keeps final snapshots across restarts until they are delivered.
type Outbox interface {
	SaveFinal(ctx context.Context, state match.State) error
	MarkDelivered(ctx context.Context, snapshotID string) error
	PendingFinals(ctx context.Context) ([]match.State, error)
}

type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	NearbyRadius   float64
}

type trackedMatch struct {
	players map[uuid.UUID]struct{}
	final   *match.State
}

type pendingFinal struct {
	state     match.State
	persisted bool
}

type Service struct {
	cfg    Config
	api    API
	world  world.World
	main   Scheduler
	outbox Outbox
	now    func() time.Time

	mu            sync.Mutex
	matches       map[string]*trackedMatch
	playerToMatch map[uuid.UUID]string
	finals        map[string]*pendingFinal

	sendMu sync.Mutex
}

// New builds a capture service. outbox may be nil, in which case undelivered
// finals live only in memory.
func New(cfg Config, api API, w world.World, main Scheduler, outbox Outbox) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.NearbyRadius <= 0 {
		cfg.NearbyRadius = defaultNearbyRadius
	}
	return &Service{
		cfg:           cfg,
		api:           api,
		world:         w,
		main:          main,
		outbox:        outbox,
		now:           time.Now,
		matches:       map[string]*trackedMatch{},
		playerToMatch: map[uuid.UUID]string{},
		finals:        map[string]*pendingFinal{},
	}
}

// Start reloads undelivered finals from the outbox and runs the capture loop
// on a scheduler worker until ctx or the worker context is done.
func (s *Service) Start(ctx context.Context) error {
	if s.outbox != nil {
		states, err := s.outbox.PendingFinals(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		for _, st := range states {
			s.finals[st.MatchID] = &pendingFinal{state: st, persisted: true}
		}
		metricPendingFinals.Set(float64(len(s.finals)))
		s.mu.Unlock()
		if len(states) > 0 {
			log.Info().Int("count", len(states)).Msg("telemetry_finals_reloaded")
		}
	}
	s.main.Go(func(workerCtx context.Context) {
		s.loop(ctx, workerCtx)
	})
	return nil
}

func (s *Service) loop(ctx, workerCtx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-workerCtx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// RegisterPlayerInMatch starts tracking a player. A player belongs to at most
// one match; registering again moves them.
func (s *Service) RegisterPlayerInMatch(playerID uuid.UUID, matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.playerToMatch[playerID]; ok && prev != matchID {
		s.removePlayerLocked(playerID)
	}
	tm := s.matches[matchID]
	if tm == nil {
		tm = &trackedMatch{players: map[uuid.UUID]struct{}{}}
		s.matches[matchID] = tm
	}
	tm.players[playerID] = struct{}{}
	s.playerToMatch[playerID] = matchID
	metricTrackedMatches.Set(float64(len(s.matches)))
	log.Debug().Str("player_id", playerID.String()).Str("match_id", matchID).Msg("telemetry_player_registered")
}

// UnregisterPlayer stops tracking a player. When the last player of a match
// goes and a final snapshot is queued, the final stays pending for delivery.
func (s *Service) UnregisterPlayer(playerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePlayerLocked(playerID)
	metricTrackedMatches.Set(float64(len(s.matches)))
}

func (s *Service) removePlayerLocked(playerID uuid.UUID) {
	matchID, ok := s.playerToMatch[playerID]
	if !ok {
		return
	}
	delete(s.playerToMatch, playerID)
	tm := s.matches[matchID]
	if tm == nil {
		return
	}
	delete(tm.players, playerID)
	if len(tm.players) > 0 {
		return
	}
	if tm.final != nil {
		s.finals[matchID] = &pendingFinal{state: *tm.final}
		metricPendingFinals.Set(float64(len(s.finals)))
	}
	delete(s.matches, matchID)
}

func (s *Service) MatchIDForPlayer(playerID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.playerToMatch[playerID]
	return id, ok
}

func (s *Service) IsPlayerInMatch(playerID uuid.UUID) bool {
	_, ok := s.MatchIDForPlayer(playerID)
	return ok
}

// TrackedMatches lists matches still receiving periodic snapshots.
func (s *Service) TrackedMatches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := lo.Keys(s.matches)
	sort.Strings(ids)
	return ids
}

// PendingFinals is the number of final snapshots not yet delivered.
func (s *Service) PendingFinals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.finals)
	for _, tm := range s.matches {
		if tm.final != nil {
			n++
		}
	}
	return n
}

// QueueFinalMatchState captures the match as it is right now and queues it for
// delivery. It must run on the main loop. Only the first call per match
// counts; it reports whether a final was queued.
func (s *Service) QueueFinalMatchState(matchID string, winner uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := s.matches[matchID]
	if tm == nil {
		log.Warn().Str("match_id", matchID).Msg("telemetry_final_untracked_match")
		return false
	}
	if tm.final != nil {
		log.Warn().Str("match_id", matchID).Msg("telemetry_final_already_queued")
		return false
	}
	st := s.snapshot(matchID, lo.Keys(tm.players))
	st.MatchEnded = true
	st.FinalState = true
	if winner != uuid.Nil {
		st.WinnerPlayerID = winner.String()
	}
	tm.final = &st
	log.Info().
		Str("match_id", matchID).
		Str("snapshot_id", st.SnapshotID).
		Int("players", len(st.Players)).
		Str("winner_player_id", st.WinnerPlayerID).
		Msg("telemetry_final_queued")
	return true
}

// Tick runs one capture cycle: finals are handed to the outbox, periodic
// snapshots are taken for matches still running, and everything goes out in a
// single batched update.
func (s *Service) Tick(ctx context.Context) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	running := s.promoteFinals()
	running = s.filterRunning(ctx, running)

	periodic, err := s.capture(ctx, running)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry_capture_failed")
	}

	finals := s.persistFinals(ctx)
	if len(finals) == 0 && len(periodic) == 0 {
		return
	}

	updates := make([]matchapi.Update, 0, len(finals)+len(periodic))
	for i := range finals {
		updates = append(updates, matchapi.Update{MatchID: finals[i].MatchID, MatchState: &finals[i]})
	}
	for i := range periodic {
		updates = append(updates, matchapi.Update{MatchID: periodic[i].MatchID, MatchState: &periodic[i]})
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.api.Update(sendCtx, updates); err != nil {
		metricSendFailures.Inc()
		log.Warn().Err(err).Int("finals", len(finals)).Int("periodic", len(periodic)).Msg("telemetry_send_failed")
		return
	}
	metricSnapshotsSent.WithLabelValues("periodic").Add(float64(len(periodic)))
	metricSnapshotsSent.WithLabelValues("final").Add(float64(len(finals)))
	s.confirmFinals(ctx, finals)
}

// capture collects periodic snapshots on the main loop, waiting at most
// RequestTimeout. A late main-loop run after a timeout writes only to the
// buffered channel nobody reads.
func (s *Service) capture(ctx context.Context, ids []string) ([]match.State, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	out := make(chan []match.State, 1)
	if err := s.main.Do(ctx, func() { out <- s.capturePeriodic(ids) }); err != nil {
		return nil, err
	}
	return <-out, nil
}

// promoteFinals moves matches with a queued final out of tracking and returns
// the ids of matches still running with players.
func (s *Service) promoteFinals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var running []string
	for id, tm := range s.matches {
		if tm.final != nil {
			s.finals[id] = &pendingFinal{state: *tm.final}
			for pid := range tm.players {
				delete(s.playerToMatch, pid)
			}
			delete(s.matches, id)
			continue
		}
		if len(tm.players) > 0 {
			running = append(running, id)
		}
	}
	sort.Strings(running)
	metricTrackedMatches.Set(float64(len(s.matches)))
	metricPendingFinals.Set(float64(len(s.finals)))
	return running
}

// filterRunning asks the service for each match's status and stops tracking
// those it reports ended or does not know.
func (s *Service) filterRunning(ctx context.Context, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	infoCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	info, err := s.api.Info(infoCtx, ids)
	if err != nil {
		log.Warn().Err(err).Int("matches", len(ids)).Msg("telemetry_status_check_failed")
		return nil
	}
	alive := make([]string, 0, len(ids))
	for _, id := range ids {
		inf, ok := info[id]
		if ok && !inf.Status.Terminal() {
			alive = append(alive, id)
			continue
		}
		s.dropMatch(id)
	}
	return alive
}

func (s *Service) dropMatch(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := s.matches[matchID]
	if tm == nil || tm.final != nil {
		return
	}
	for pid := range tm.players {
		delete(s.playerToMatch, pid)
	}
	delete(s.matches, matchID)
	metricMatchesDropped.Inc()
	metricTrackedMatches.Set(float64(len(s.matches)))
	log.Info().Str("match_id", matchID).Msg("telemetry_match_dropped")
}

// capturePeriodic runs on the main loop.
func (s *Service) capturePeriodic(ids []string) []match.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]match.State, 0, len(ids))
	for _, id := range ids {
		tm := s.matches[id]
		if tm == nil || tm.final != nil {
			continue
		}
		st := s.snapshot(id, lo.Keys(tm.players))
		if len(st.Players) == 0 {
			continue
		}
		out = append(out, st)
	}
	return out
}

// persistFinals writes new finals to the outbox and returns every pending
// final in match order.
func (s *Service) persistFinals(ctx context.Context) []match.State {
	s.mu.Lock()
	pending := make([]*pendingFinal, 0, len(s.finals))
	for _, pf := range s.finals {
		pending = append(pending, pf)
	}
	s.mu.Unlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].state.MatchID < pending[j].state.MatchID })

	out := make([]match.State, 0, len(pending))
	for _, pf := range pending {
		if s.outbox != nil && !pf.persisted {
			if err := s.outbox.SaveFinal(ctx, pf.state); err != nil {
				log.Warn().Err(err).Str("match_id", pf.state.MatchID).Msg("telemetry_final_persist_failed")
			} else {
				s.mu.Lock()
				pf.persisted = true
				s.mu.Unlock()
			}
		}
		out = append(out, pf.state)
	}
	return out
}

func (s *Service) confirmFinals(ctx context.Context, finals []match.State) {
	for _, st := range finals {
		s.mu.Lock()
		pf := s.finals[st.MatchID]
		if pf != nil && pf.state.SnapshotID == st.SnapshotID {
			delete(s.finals, st.MatchID)
		}
		metricPendingFinals.Set(float64(len(s.finals)))
		s.mu.Unlock()
		if s.outbox != nil {
			if err := s.outbox.MarkDelivered(ctx, st.SnapshotID); err != nil {
				log.Warn().Err(err).Str("snapshot_id", st.SnapshotID).Msg("telemetry_final_mark_failed")
			}
		}
		log.Info().Str("match_id", st.MatchID).Str("snapshot_id", st.SnapshotID).Msg("telemetry_final_sent")
	}
}

// snapshot reads the world; callers hold s.mu and run on the main loop.
func (s *Service) snapshot(matchID string, playerIDs []uuid.UUID) match.State {
	sort.Slice(playerIDs, func(i, j int) bool { return playerIDs[i].String() < playerIDs[j].String() })
	online := s.world.OnlinePlayers()
	st := match.State{
		SnapshotID: store.NewID(),
		Timestamp:  s.now().UnixMilli(),
		MatchID:    matchID,
		Players:    make([]match.PlayerState, 0, len(playerIDs)),
	}
	for _, id := range playerIDs {
		p, ok := s.world.Player(id)
		if !ok || !p.Online {
			continue
		}
		st.Players = append(st.Players, s.playerState(p, online))
	}
	return st
}

func (s *Service) playerState(p world.Player, online []world.Player) match.PlayerState {
	nearby := lo.CountBy(online, func(o world.Player) bool {
		return o.ID != p.ID && o.World == p.World && o.Position.Distance(p.Position) <= s.cfg.NearbyRadius
	})
	return match.PlayerState{
		PlayerID:  p.ID.String(),
		IGN:       p.Name,
		Health:    p.Health,
		MaxHealth: p.MaxHealth,
		FoodLevel: p.FoodLevel,
		Position: match.Position{
			X:     p.Position.X,
			Y:     p.Position.Y,
			Z:     p.Position.Z,
			World: p.World,
		},
		Equipment: match.Equipment{
			MainHand:   FormatItemName(p.Equipment[world.SlotMainHand]),
			Helmet:     FormatItemName(p.Equipment[world.SlotHelmet]),
			Chestplate: FormatItemName(p.Equipment[world.SlotChestplate]),
			Leggings:   FormatItemName(p.Equipment[world.SlotLeggings]),
			Boots:      FormatItemName(p.Equipment[world.SlotBoots]),
		},
		Kills:         p.Kills,
		Deaths:        p.Deaths,
		NearbyPlayers: nearby,
	}
}
