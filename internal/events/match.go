package events

import (
	"context"
	"fmt"
	"time"

	"match-beacon/internal/world"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	lostMessage           = "You lost the match. Returning to lobby..."
	wonByEliminationFmt   = "You won the match! %s has been eliminated."
	wonByDisconnectionFmt = "You won the match! %s has disconnected."
)

type Registry interface {
	MatchIDForPlayer(playerID uuid.UUID) (string, bool)
	PlayersInMatch(matchID string) []uuid.UUID
	EndMatch(matchID string, winner uuid.UUID)
}

type Telemetry interface {
	UnregisterPlayer(playerID uuid.UUID)
}

// TokenClearer frees an admission token for a match that has not started.
type TokenClearer interface {
	ClearToken(ctx context.Context, playerID, matchID string) (bool, error)
}

// Admissions tells which match a connected player was admitted to.
type Admissions interface {
	AdmittedMatch(playerID uuid.UUID) (string, bool)
}

type Workers interface {
	Go(fn func(ctx context.Context))
}

type MatchHandlers struct {
	Registry       Registry
	Telemetry      Telemetry
	World          world.World
	Admissions     Admissions
	Tokens         TokenClearer
	Workers        Workers
	RequestTimeout time.Duration
}

// Register installs the death and quit handlers on d.
func (h *MatchHandlers) Register(d *Dispatcher) {
	d.Handle(KindDeath, h.onDeath)
	d.Handle(KindQuit, h.onQuit)
}

func (h *MatchHandlers) onDeath(ev Event) {
	matchID, ok := h.Registry.MatchIDForPlayer(ev.PlayerID)
	if !ok {
		return
	}
	victim, _ := h.World.Player(ev.PlayerID)
	log.Info().Str("match_id", matchID).Str("player_id", ev.PlayerID.String()).Str("killer_id", killerString(ev.KillerID)).Msg("match_player_died")

	winner := h.remainingPlayer(matchID, ev.PlayerID)
	if winner != uuid.Nil {
		h.World.SendMessage(winner, fmt.Sprintf(wonByEliminationFmt, victim.Name))
		h.World.SendMessage(ev.PlayerID, lostMessage)
	}
	h.Registry.EndMatch(matchID, winner)
}

func (h *MatchHandlers) onQuit(ev Event) {
	player, _ := h.World.Player(ev.PlayerID)

	if h.Admissions != nil {
		if admitted, ok := h.Admissions.AdmittedMatch(ev.PlayerID); ok {
			h.clearToken(ev.PlayerID, admitted)
		}
	}

	if matchID, ok := h.Registry.MatchIDForPlayer(ev.PlayerID); ok {
		log.Info().Str("match_id", matchID).Str("player_id", ev.PlayerID.String()).Msg("match_player_quit")
		winner := h.remainingPlayer(matchID, ev.PlayerID)
		if winner != uuid.Nil {
			h.World.SendMessage(winner, fmt.Sprintf(wonByDisconnectionFmt, player.Name))
		}
		h.Registry.EndMatch(matchID, winner)
	}

	h.Telemetry.UnregisterPlayer(ev.PlayerID)
}

// remainingPlayer is the first other participant still connected.
func (h *MatchHandlers) remainingPlayer(matchID string, gone uuid.UUID) uuid.UUID {
	for _, id := range h.Registry.PlayersInMatch(matchID) {
		if id == gone {
			continue
		}
		if p, ok := h.World.Player(id); ok && p.Online {
			return id
		}
	}
	return uuid.Nil
}

func (h *MatchHandlers) clearToken(playerID uuid.UUID, matchID string) {
	if h.Tokens == nil || h.Workers == nil {
		return
	}
	timeout := h.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h.Workers.Go(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		cleared, err := h.Tokens.ClearToken(ctx, playerID.String(), matchID)
		if err != nil {
			log.Warn().Err(err).Str("match_id", matchID).Str("player_id", playerID.String()).Msg("token_clear_failed")
			return
		}
		log.Info().Str("match_id", matchID).Str("player_id", playerID.String()).Bool("cleared", cleared).Msg("token_clear_done")
	})
}

func killerString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
