package matchapi

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrCircuitOpen = errors.New("match service circuit open")

// breaker fails calls fast for a while after repeated transport failures so a
// dead service does not cost every tick a full request timeout.
type breaker struct {
	threshold int
	openFor   time.Duration
	now       func() time.Time

	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
}

func newBreaker(threshold int, openFor time.Duration) *breaker {
	if threshold <= 0 || openFor <= 0 {
		return nil
	}
	return &breaker{threshold: threshold, openFor: openFor, now: time.Now}
}

func (b *breaker) allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.openUntil.IsZero() && b.now().Before(b.openUntil) {
		return ErrCircuitOpen
	}
	return nil
}

// record counts transport failures and 5xx answers; any other outcome means
// the service is reachable.
func (b *breaker) record(err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !unreachable(err) {
		b.consecutiveFailures = 0
		b.openUntil = time.Time{}
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.openUntil = b.now().Add(b.openFor)
		b.consecutiveFailures = 0
		metricCircuitOpened.Inc()
		log.Warn().Err(err).Dur("open_for", b.openFor).Msg("matchapi_circuit_opened")
	}
}

func unreachable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var ae *APIError
	return !errors.As(err, &ae) && !errors.Is(err, ErrMalformedResponse)
}
