package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"match-beacon/internal/events"
	"match-beacon/internal/orchestrator"
	"match-beacon/internal/registry"
	"match-beacon/internal/world"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubViews struct{}

func (stubViews) Matches() []registry.Entry {
	return []registry.Entry{{MatchID: "m1", WorldName: "match_1"}}
}
func (stubViews) TrackedMatches() []string { return []string{"m1"} }
func (stubViews) PendingFinals() int { return 2 }
func (stubViews) Rejections() []orchestrator.Rejection {
	return []orchestrator.Rejection{{MatchID: "bw", Reason: "team shape not supported"}}
}

type stubQueue int

func (q stubQueue) Pending() int { return int(q) }

type inlineLoop struct{ err error }

func (l inlineLoop) Do(_ context.Context, fn func()) error {
	if l.err != nil {
		return l.err
	}
	fn()
	return nil
}

type recordingDispatcher struct {
	sim    *world.Sim
	events []events.Event
	// health of the subject at dispatch time
	health []float64
}

func (d *recordingDispatcher) Dispatch(ev events.Event) bool {
	d.events = append(d.events, ev)
	if p, ok := d.sim.Player(ev.PlayerID); ok {
		d.health = append(d.health, p.Health)
	}
	return true
}

func newTestRouter(t *testing.T, d Deps) http.Handler {
	t.Helper()
	if d.Registry == nil {
		d.Registry = stubViews{}
		d.Telemetry = stubViews{}
		d.Rejections = stubViews{}
	}
	return NewRouter(d)
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name   string
		store  Pinger
		status int
		db     string
		ok     bool
	}{
		{"no store", nil, http.StatusOK, "disabled", true},
		{"store up", stubPinger{}, http.StatusOK, "up", true},
		{"store down", stubPinger{err: errors.New("down")}, http.StatusServiceUnavailable, "down", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, Deps{Store: tc.store})
			rec := do(t, h, http.MethodGet, "/healthz", "")
			require.Equal(t, tc.status, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.db, body["db"])
			assert.Equal(t, tc.ok, body["ok"])
		})
	}
}

func TestMatchesView(t *testing.T) {
	h := newTestRouter(t, Deps{Queue: stubQueue(3)})
	rec := do(t, h, http.MethodGet, "/api/matches", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items           []registry.Entry         `json:"items"`
		Tracked         []string                 `json:"tracked"`
		PendingFinals   int                      `json:"pending_finals"`
		Rejected        []orchestrator.Rejection `json:"rejected"`
		MainLoopPending int                      `json:"main_loop_pending"`
		UptimeSeconds   *int64                   `json:"uptime_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "match_1", body.Items[0].WorldName)
	assert.Equal(t, []string{"m1"}, body.Tracked)
	assert.Equal(t, 2, body.PendingFinals)
	assert.Equal(t, "bw", body.Rejected[0].MatchID)
	assert.Equal(t, 3, body.MainLoopPending)
	require.NotNil(t, body.UptimeSeconds)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, Deps{})
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSimRoutesDisabledWithoutSim(t *testing.T) {
	h := newTestRouter(t, Deps{})
	rec := do(t, h, http.MethodPost, "/api/sim/players", `{"name":"Alice"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimKillDispatchesBeforeRespawn(t *testing.T) {
	sim := world.NewSim("world")
	disp := &recordingDispatcher{sim: sim}
	h := newTestRouter(t, Deps{Sim: sim, MainLoop: inlineLoop{}, Events: disp})

	alice, bob := uuid.New(), uuid.New()
	rec := do(t, h, http.MethodPost, "/api/sim/players", `{"id":"`+alice.String()+`","name":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/sim/players", `{"id":"`+bob.String()+`","name":"Bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/sim/players/"+alice.String()+"/kill", `{"killerId":"`+bob.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, disp.events, 1)
	assert.Equal(t, events.KindDeath, disp.events[0].Kind)
	assert.Equal(t, bob, disp.events[0].KillerID)
	assert.Equal(t, []float64{0}, disp.health)

	rec = do(t, h, http.MethodPost, "/api/sim/players/"+alice.String()+"/respawn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p, _ := sim.Player(alice)
	assert.Equal(t, 20.0, p.Health)
}

func TestSimQuitDispatchesWhileOnline(t *testing.T) {
	sim := world.NewSim("world")
	disp := &recordingDispatcher{sim: sim}
	h := newTestRouter(t, Deps{Sim: sim, MainLoop: inlineLoop{}, Events: disp})
	id := uuid.New()
	sim.Join(id, "Alice")

	rec := do(t, h, http.MethodPost, "/api/sim/players/"+id.String()+"/quit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, disp.health, 1, "player must still be online at dispatch")
	_, online := sim.Player(id)
	assert.False(t, online)

	rec = do(t, h, http.MethodPost, "/api/sim/players/"+id.String()+"/quit", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimMutations(t *testing.T) {
	sim := world.NewSim("world")
	h := newTestRouter(t, Deps{Sim: sim, MainLoop: inlineLoop{}, Events: events.NewDispatcher()})
	id := uuid.New()
	sim.Join(id, "Alice")
	base := "/api/sim/players/" + id.String()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, base+"/move", `{"X":1,"Y":2,"Z":3}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, base+"/equip", `{"slot":"helmet","material":"IRON_HELMET"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, base+"/health", `{"health":4}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, base+"/admit", `{"matchId":"m1"}`).Code)

	p, _ := sim.Player(id)
	assert.Equal(t, world.Vec3{X: 1, Y: 2, Z: 3}, p.Position)
	assert.Equal(t, "IRON_HELMET", p.Equipment[world.SlotHelmet])
	assert.Equal(t, 4.0, p.Health)
	m, ok := sim.AdmittedMatch(id)
	require.True(t, ok)
	assert.Equal(t, "m1", m)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/sim/players/nope/move", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, base+"/equip", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/sim/players/"+uuid.NewString()+"/respawn", "").Code)
}

func TestSimMainLoopUnavailable(t *testing.T) {
	sim := world.NewSim("world")
	h := newTestRouter(t, Deps{Sim: sim, MainLoop: inlineLoop{err: context.DeadlineExceeded}, Events: events.NewDispatcher()})
	rec := do(t, h, http.MethodPost, "/api/sim/players", `{"name":"Alice"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSimAdminKey(t *testing.T) {
	sim := world.NewSim("world")
	h := newTestRouter(t, Deps{Sim: sim, MainLoop: inlineLoop{}, Events: events.NewDispatcher(), AdminKey: "k"})

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/sim/players", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/sim/players", "", "X-Admin-Key", "k").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/sim/players", "", "Authorization", "Bearer k").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/matches", "").Code)
}
