// Package scheduler separates the two execution contexts of the game process:
// the single main loop, the only place allowed to touch live world objects,
// and background workers used for network I/O and timers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultTick = 50 * time.Millisecond

type Scheduler struct {
	tick time.Duration

	mu      sync.Mutex
	pending []func()
	closed  bool

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	wg           sync.WaitGroup
}

func New(tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = defaultTick
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{tick: tick, workerCtx: ctx, cancelWorker: cancel}
}

// Submit posts fn to the main loop and returns immediately. fn runs on the
// next main tick, in submission order.
func (s *Scheduler) Submit(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, fn)
}

// After posts fn to the main loop once d has elapsed.
func (s *Scheduler) After(d time.Duration, fn func()) *time.Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, func() { s.Submit(fn) })
}

// Do submits fn to the main loop and waits for it to finish. Only workers may
// call Do; calling it from the main loop deadlocks until ctx expires.
func (s *Scheduler) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	s.Submit(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs fn on a background worker. The context is cancelled by Close.
func (s *Scheduler) Go(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer recoverTask("worker")
		fn(s.workerCtx)
	}()
}

// Run drives the main loop until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Drain()
		}
	}
}

// Drain executes one main tick: every task queued before the call. Tasks
// submitted while draining wait for the next tick.
func (s *Scheduler) Drain() int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range batch {
		runMain(fn)
	}
	return len(batch)
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops accepting work, cancels workers and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	s.cancelWorker()
	s.wg.Wait()
}

func runMain(fn func()) {
	defer recoverTask("main")
	fn()
}

func recoverTask(where string) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Str("context", where).Msg("scheduled task panicked")
	}
}
