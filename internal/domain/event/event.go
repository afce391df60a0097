package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies an engine event.
type Type string

const (
	TypeCycle     Type = "cycle"
	TypeState     Type = "state"
	TypeExecution Type = "execution"
	TypePayout    Type = "payout"
	TypeProbe     Type = "probe"
)

// Event is a notification emitted by the engine for operators and dashboards.
type Event struct {
	EventID uuid.UUID      `json:"eventId"`
	Type    Type           `json:"type"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

func New(t Type, at time.Time, data map[string]any) *Event {
	return &Event{EventID: uuid.New(), Type: t, At: at, Data: data}
}

// Publisher fans events out to subscribers. Publish must not block.
type Publisher interface {
	Publish(ev *Event)
}
