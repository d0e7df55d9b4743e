// Package events routes game events that can end a match to their handlers.
// Dispatch runs on the main loop, in the call stack of the game event, so
// handlers see the world before any respawn or teleport happens.
package events

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindDeath Kind = "death"
	KindQuit  Kind = "quit"
)

type Event struct {
	Kind     Kind      `json:"kind"`
	PlayerID uuid.UUID `json:"playerId"`
	// KillerID is set for deaths caused by another player.
	KillerID uuid.UUID `json:"killerId,omitempty"`
}

type Handler func(ev Event)

type Dispatcher struct {
	handlers map[Kind]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[Kind]Handler{}}
}

// Handle sets the handler for kind, replacing any earlier one.
func (d *Dispatcher) Handle(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch reports whether a handler ran.
func (d *Dispatcher) Dispatch(ev Event) bool {
	h, ok := d.handlers[ev.Kind]
	if !ok {
		log.Debug().Str("kind", string(ev.Kind)).Msg("event_unhandled")
		return false
	}
	h(ev)
	return true
}

// Kinds lists the registered event kinds in name order.
func (d *Dispatcher) Kinds() []string {
	out := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
