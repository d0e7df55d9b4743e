package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const (
	defaultMaxHealth = 20.0
	defaultFood      = 20
)

var (
	lobbySpawn = Vec3{X: 0, Y: 64, Z: 0}
	blueSpawn  = Vec3{X: 5, Y: -61, Z: 0}
	redSpawn   = Vec3{X: -5, Y: -61, Z: 0}
)

// Sim is an in-memory world. It backs the standalone binary and tests, and is
// guarded by a mutex so the operator HTTP surface may read it directly.
type Sim struct {
	lobby string

	mu        sync.Mutex
	players   map[uuid.UUID]*Player
	admitted  map[uuid.UUID]string
	arenas    map[string]struct{}
	messages  map[uuid.UUID][]string
	createErr error
}

func NewSim(lobby string) *Sim {
	if lobby == "" {
		lobby = "world"
	}
	return &Sim{
		lobby:    lobby,
		players:  map[uuid.UUID]*Player{},
		admitted: map[uuid.UUID]string{},
		arenas:   map[string]struct{}{},
		messages: map[uuid.UUID][]string{},
	}
}

func (s *Sim) Lobby() string { return s.lobby }

// Join connects a player at the lobby spawn. Rejoining keeps combat stats.
func (s *Sim) Join(id uuid.UUID, name string) Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		p = &Player{ID: id, Equipment: map[Slot]string{}}
		s.players[id] = p
	}
	p.Name = name
	p.Online = true
	p.Health, p.MaxHealth, p.FoodLevel = defaultMaxHealth, defaultMaxHealth, defaultFood
	p.World, p.Position = s.lobby, lobbySpawn
	return clonePlayer(p)
}

func (s *Sim) Quit(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		p.Online = false
	}
	delete(s.admitted, id)
}

// Admit records that a player consumed an admission token for matchID.
func (s *Sim) Admit(id uuid.UUID, matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted[id] = matchID
}

func (s *Sim) AdmittedMatch(id uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.admitted[id]
	return m, ok
}

// Kill drops a player's health to zero and updates both players' counters.
func (s *Sim) Kill(id uuid.UUID, killer uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.online(id)
	if !ok {
		return ErrPlayerOffline
	}
	p.Health = 0
	p.Deaths++
	if k, ok := s.players[killer]; ok && killer != id {
		k.Kills++
	}
	return nil
}

// Respawn restores health and moves the player to the spawn of their world.
func (s *Sim) Respawn(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.online(id)
	if !ok {
		return ErrPlayerOffline
	}
	p.Health = p.MaxHealth
	p.FoodLevel = defaultFood
	if p.World == s.lobby {
		p.Position = lobbySpawn
	} else {
		p.Position = Vec3{}
	}
	return nil
}

func (s *Sim) Move(id uuid.UUID, pos Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.online(id)
	if !ok {
		return ErrPlayerOffline
	}
	p.Position = pos
	return nil
}

func (s *Sim) SetHealth(id uuid.UUID, health float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.online(id)
	if !ok {
		return ErrPlayerOffline
	}
	p.Health = min(max(health, 0), p.MaxHealth)
	return nil
}

func (s *Sim) Equip(id uuid.UUID, slot Slot, material string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.online(id)
	if !ok {
		return ErrPlayerOffline
	}
	p.Equipment[slot] = material
	return nil
}

// Messages returns what was sent to a player, oldest first.
func (s *Sim) Messages(id uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages[id]...)
}

func (s *Sim) Arenas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.arenas))
	for name := range s.arenas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FailArenaCreation makes the next CreateArena calls return err until reset with nil.
func (s *Sim) FailArenaCreation(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *Sim) Player(id uuid.UUID) (Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.online(id)
	if !ok {
		return Player{}, false
	}
	return clonePlayer(p), true
}

func (s *Sim) OnlinePlayers() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		if p.Online {
			out = append(out, clonePlayer(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Sim) CreateArena(blue, red uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	bp, ok := s.online(blue)
	if !ok {
		return "", fmt.Errorf("blue player %s: %w", blue, ErrPlayerOffline)
	}
	rp, ok := s.online(red)
	if !ok {
		return "", fmt.Errorf("red player %s: %w", red, ErrPlayerOffline)
	}

	name := s.nextArenaName()
	s.arenas[name] = struct{}{}

	resetForMatch(bp, name, blueSpawn)
	resetForMatch(rp, name, redSpawn)
	return name, nil
}

func (s *Sim) DeleteArena(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.arenas[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownArena)
	}
	for _, p := range s.players {
		if p.World == name {
			p.World, p.Position = s.lobby, lobbySpawn
		}
	}
	delete(s.arenas, name)
	return nil
}

func (s *Sim) ReturnToLobby(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.online(id)
	if !ok {
		return fmt.Errorf("return %s to lobby: %w", id, ErrPlayerOffline)
	}
	p.World, p.Position = s.lobby, lobbySpawn
	return nil
}

func (s *Sim) SendMessage(id uuid.UUID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.online(id); !ok {
		return
	}
	s.messages[id] = append(s.messages[id], msg)
}

// nextArenaName picks the lowest unused match_N.
func (s *Sim) nextArenaName() string {
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s%d", ArenaPrefix, n)
		if _, taken := s.arenas[name]; !taken {
			return name
		}
	}
}

func (s *Sim) online(id uuid.UUID) (*Player, bool) {
	p, ok := s.players[id]
	if !ok || !p.Online {
		return nil, false
	}
	return p, true
}

func resetForMatch(p *Player, arena string, spawn Vec3) {
	p.World, p.Position = arena, spawn
	p.Equipment = map[Slot]string{}
	p.MaxHealth = defaultMaxHealth
	p.Health = defaultMaxHealth
	p.FoodLevel = defaultFood
}

func clonePlayer(p *Player) Player {
	out := *p
	out.Equipment = make(map[Slot]string, len(p.Equipment))
	for k, v := range p.Equipment {
		out.Equipment[k] = v
	}
	return out
}
