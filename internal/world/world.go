// Package world is the boundary to the live game world. Implementations are
// not safe for use off the main loop unless they say otherwise.
package world

import (
	"errors"
	"math"

	"github.com/google/uuid"
)

var (
	ErrPlayerOffline = errors.New("player offline")
	ErrUnknownArena  = errors.New("unknown arena")
)

// ArenaPrefix names every world created for a match.
const ArenaPrefix = "match_"

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

type Slot string

const (
	SlotMainHand   Slot = "main_hand"
	SlotHelmet     Slot = "helmet"
	SlotChestplate Slot = "chestplate"
	SlotLeggings   Slot = "leggings"
	SlotBoots      Slot = "boots"
)

// Player is a copy of a player's live state. Equipment holds material names
// such as DIAMOND_SWORD; an empty slot is "" or AIR.
type Player struct {
	ID        uuid.UUID
	Name      string
	Online    bool
	Health    float64
	MaxHealth float64
	FoodLevel int
	World     string
	Position  Vec3
	Equipment map[Slot]string
	Kills     int
	Deaths    int
}

type World interface {
	// Player returns a connected player.
	Player(id uuid.UUID) (Player, bool)
	OnlinePlayers() []Player
	// CreateArena builds a fresh arena, moves both players in and resets them
	// for a fair start. It returns the arena's world name.
	CreateArena(blue, red uuid.UUID) (string, error)
	DeleteArena(name string) error
	ReturnToLobby(id uuid.UUID) error
	SendMessage(id uuid.UUID, msg string)
}
