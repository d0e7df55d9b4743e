package events

import (
	"context"
	"sync"
	"testing"

	"match-beacon/internal/world"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	players map[string][]uuid.UUID
	ended   map[string]uuid.UUID
}

func (r *fakeRegistry) MatchIDForPlayer(id uuid.UUID) (string, bool) {
	for m, ps := range r.players {
		for _, p := range ps {
			if p == id {
				return m, true
			}
		}
	}
	return "", false
}

func (r *fakeRegistry) PlayersInMatch(matchID string) []uuid.UUID { return r.players[matchID] }

func (r *fakeRegistry) EndMatch(matchID string, winner uuid.UUID) {
	if r.ended == nil {
		r.ended = map[string]uuid.UUID{}
	}
	r.ended[matchID] = winner
}

type fakeTelemetry struct{ unregistered []uuid.UUID }

func (t *fakeTelemetry) UnregisterPlayer(id uuid.UUID) { t.unregistered = append(t.unregistered, id) }

type fakeTokens struct {
	mu      sync.Mutex
	cleared [][2]string
}

func (f *fakeTokens) ClearToken(_ context.Context, playerID, matchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, [2]string{playerID, matchID})
	return true, nil
}

type inlineWorkers struct{}

func (inlineWorkers) Go(fn func(ctx context.Context)) { fn(context.Background()) }

type fixture struct {
	sim    *world.Sim
	reg    *fakeRegistry
	tel    *fakeTelemetry
	tokens *fakeTokens
	d      *Dispatcher
	alice  uuid.UUID
	bob    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sim:    world.NewSim("world"),
		tel:    &fakeTelemetry{},
		tokens: &fakeTokens{},
		d:      NewDispatcher(),
		alice:  uuid.New(),
		bob:    uuid.New(),
	}
	f.sim.Join(f.alice, "Alice")
	f.sim.Join(f.bob, "Bob")
	f.reg = &fakeRegistry{players: map[string][]uuid.UUID{"m1": {f.alice, f.bob}}}
	h := &MatchHandlers{
		Registry:   f.reg,
		Telemetry:  f.tel,
		World:      f.sim,
		Admissions: f.sim,
		Tokens:     f.tokens,
		Workers:    inlineWorkers{},
	}
	h.Register(f.d)
	return f
}

func TestDispatchUnknownKind(t *testing.T) {
	d := NewDispatcher()
	assert.False(t, d.Dispatch(Event{Kind: "teleport"}))

	var got Event
	d.Handle("teleport", func(ev Event) { got = ev })
	id := uuid.New()
	assert.True(t, d.Dispatch(Event{Kind: "teleport", PlayerID: id}))
	assert.Equal(t, id, got.PlayerID)
	assert.Equal(t, []string{"teleport"}, d.Kinds())
}

func TestKindsSorted(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"death", "quit"}, f.d.Kinds())
}

func TestDeathEndsMatchWithSurvivorAsWinner(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.d.Dispatch(Event{Kind: KindDeath, PlayerID: f.alice, KillerID: f.bob}))

	assert.Equal(t, map[string]uuid.UUID{"m1": f.bob}, f.reg.ended)
	assert.Equal(t, []string{"You won the match! Alice has been eliminated."}, f.sim.Messages(f.bob))
	assert.Equal(t, []string{lostMessage}, f.sim.Messages(f.alice))
}

func TestDeathWithoutSurvivorHasNoWinner(t *testing.T) {
	f := newFixture(t)
	f.sim.Quit(f.bob)

	f.d.Dispatch(Event{Kind: KindDeath, PlayerID: f.alice})

	assert.Equal(t, uuid.Nil, f.reg.ended["m1"])
	assert.Empty(t, f.sim.Messages(f.alice))
}

func TestDeathOutsideMatchIgnored(t *testing.T) {
	f := newFixture(t)
	f.d.Dispatch(Event{Kind: KindDeath, PlayerID: uuid.New()})
	assert.Empty(t, f.reg.ended)
}

func TestQuitDuringMatch(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(Event{Kind: KindQuit, PlayerID: f.bob})

	assert.Equal(t, f.alice, f.reg.ended["m1"])
	assert.Equal(t, []string{"You won the match! Bob has disconnected."}, f.sim.Messages(f.alice))
	assert.Equal(t, []uuid.UUID{f.bob}, f.tel.unregistered)
	assert.Empty(t, f.tokens.cleared)
}

func TestQuitBeforeStartClearsToken(t *testing.T) {
	f := newFixture(t)
	carol := uuid.New()
	f.sim.Join(carol, "Carol")
	f.sim.Admit(carol, "m2")

	f.d.Dispatch(Event{Kind: KindQuit, PlayerID: carol})

	assert.Equal(t, [][2]string{{carol.String(), "m2"}}, f.tokens.cleared)
	assert.Empty(t, f.reg.ended)
	assert.Equal(t, []uuid.UUID{carol}, f.tel.unregistered)
}
