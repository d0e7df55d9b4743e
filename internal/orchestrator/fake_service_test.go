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

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	blueTeam = "team-blue"
	redTeam  = "team-red"
)

type fakeMatch struct {
	m      match.Match
	tokens []match.Token
}

// fakeService is an in-memory match service.
type fakeService struct {
	mu        sync.Mutex
	matches   map[string]*fakeMatch
	ackErr    map[string]error
	readiness map[string]match.Readiness
	noInfo    map[string]bool
	onAck     func(matchID string)
	calls     map[string]int
	updates   []matchapi.Update

	// rejects any batch that reports a match Finished
	failFinished bool
}

func newFakeService() *fakeService {
	return &fakeService{
		matches:   map[string]*fakeMatch{},
		ackErr:    map[string]error{},
		readiness: map[string]match.Readiness{},
		noInfo:    map[string]bool{},
		calls:     map[string]int{},
	}
}

func (f *fakeService) add(id string, typ match.GameType, st match.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[id] = &fakeMatch{m: match.Match{ID: id, Status: st, Type: typ, BlueTeamID: blueTeam, RedTeamID: redTeam}}
	if st != match.StatusQueuing {
		f.generateLocked(id)
	}
}

func (f *fakeService) generateLocked(id string) {
	fm := f.matches[id]
	n := match.TokensPerTeam(fm.m.Type)
	fm.tokens = nil
	for _, team := range []string{blueTeam, redTeam} {
		for i := 0; i < n; i++ {
			fm.tokens = append(fm.tokens, match.Token{Value: fmt.Sprintf("%s-%s-%d", id, team, i), GameTeamID: team})
		}
	}
}

// consume marks the first free token of team as used by player.
func (f *fakeService) consume(id, team string, player uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fm := f.matches[id]
	for i := range fm.tokens {
		if fm.tokens[i].GameTeamID == team && fm.tokens[i].UserID == "" {
			fm.tokens[i].UserID = player.String()
			return
		}
	}
}

func (f *fakeService) consumeLocked(id, team string, player uuid.UUID) {
	fm := f.matches[id]
	for i := range fm.tokens {
		if fm.tokens[i].GameTeamID == team && fm.tokens[i].UserID == "" {
			fm.tokens[i].UserID = player.String()
			return
		}
	}
}

func (f *fakeService) setFailFinished(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFinished = v
}

func (f *fakeService) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.matches, id)
}

func (f *fakeService) status(id string) match.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matches[id].m.Status
}

func (f *fakeService) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeService) sentUpdates() []matchapi.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]matchapi.Update(nil), f.updates...)
}

func (f *fakeService) ListMatches(_ context.Context, statuses ...match.Status) ([]match.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	var out []match.Match
	for _, fm := range f.matches {
		for _, s := range statuses {
			if fm.m.Status == s {
				out = append(out, fm.m)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeService) Acknowledge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["acknowledge"]++
	if err := f.ackErr[id]; err != nil {
		delete(f.ackErr, id)
		return err
	}
	fm, ok := f.matches[id]
	if !ok || fm.m.Status != match.StatusQueuing {
		return errors.New("match not queuing")
	}
	f.generateLocked(id)
	fm.m.Status = match.StatusWaiting
	if f.onAck != nil {
		f.onAck(id)
	}
	return nil
}

func (f *fakeService) Readiness(_ context.Context, ids []string) (map[string]match.Readiness, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["readiness"]++
	out := map[string]match.Readiness{}
	for _, id := range ids {
		if r, ok := f.readiness[id]; ok {
			out[id] = r
			continue
		}
		fm, ok := f.matches[id]
		if !ok {
			continue
		}
		r := match.Readiness{TotalTokens: len(fm.tokens)}
		for _, t := range fm.tokens {
			if t.Used() {
				r.UsedTokens++
			}
		}
		r.Ready = r.TotalTokens > 0 && r.UsedTokens == r.TotalTokens
		out[id] = r
	}
	return out, nil
}

func (f *fakeService) Tokens(_ context.Context, ids []string) (map[string][]match.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["tokens"]++
	out := map[string][]match.Token{}
	for _, id := range ids {
		if fm, ok := f.matches[id]; ok {
			out[id] = append([]match.Token(nil), fm.tokens...)
		}
	}
	return out, nil
}

func (f *fakeService) Info(_ context.Context, ids []string) (map[string]match.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["info"]++
	out := map[string]match.Info{}
	for _, id := range ids {
		fm, ok := f.matches[id]
		if !ok || f.noInfo[id] {
			continue
		}
		out[id] = match.Info{BlueTeamID: fm.m.BlueTeamID, RedTeamID: fm.m.RedTeamID, Status: fm.m.Status}
	}
	return out, nil
}

func (f *fakeService) Update(_ context.Context, updates []matchapi.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update"]++
	if f.failFinished && lo.ContainsBy(updates, func(u matchapi.Update) bool { return u.Status == match.StatusFinished }) {
		return errors.New("update rejected")
	}
	f.updates = append(f.updates, updates...)
	for _, u := range updates {
		fm, ok := f.matches[u.MatchID]
		if !ok {
			continue
		}
		if u.Status != "" {
			fm.m.Status = u.Status
		}
		if u.WinnerPlayerID != "" {
			fm.m.WinnerPlayerID = u.WinnerPlayerID
		}
	}
	return nil
}

// testLoop stands in for the scheduler. Submitted and delayed work waits for
// the test; Do and Go run inline.
type testLoop struct {
	mu      sync.Mutex
	pending []func()
	delayed []func()
}

func (l *testLoop) Submit(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, fn)
}

func (l *testLoop) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

func (l *testLoop) Go(fn func(ctx context.Context)) { fn(context.Background()) }

func (l *testLoop) After(_ time.Duration, fn func()) *time.Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delayed = append(l.delayed, fn)
	return nil
}

func (l *testLoop) drain() int {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

func (l *testLoop) fireDelayed() {
	l.mu.Lock()
	batch := l.delayed
	l.delayed = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}
