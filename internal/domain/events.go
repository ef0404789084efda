package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types for WebSocket and NATS notifications
const (
	EventServerOnline   = "server_online"
	EventServerOffline  = "server_offline"
	EventPlayersChanged = "players_changed"
)

// Event represents a status transition observed by the reconciliation loop
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent stamps a new event with a fresh id
func NewEvent(eventType string, at time.Time, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: at.UTC(),
		Data:      data,
	}
}

// StatusChangeEvent is the payload of every transition event
type StatusChangeEvent struct {
	Online        bool     `json:"online"`
	PlayersOnline int      `json:"players_online"`
	PlayersMax    int      `json:"players_max"`
	Roster        []string `json:"roster,omitempty"`
	WasOnline     bool     `json:"was_online"`
	PrevPlayers   int      `json:"prev_players"`
	First         bool     `json:"first,omitempty"` // no earlier snapshot to compare with
}
