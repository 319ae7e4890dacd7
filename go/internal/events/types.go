package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a room event
type EventType string

const (
	EventTypeCommandApplied EventType = "CommandApplied"
	EventTypeRoomFinished   EventType = "RoomFinished"
	EventTypeRoomEvicted    EventType = "RoomEvicted"
)

// RoomEvent records one change to a room. Events are write-only: nothing in
// the server reads them back.
type RoomEvent struct {
	ID         uuid.UUID       `json:"eventId"`
	RoomID     string          `json:"roomId"`
	Type       EventType       `json:"eventType"`
	Command    string          `json:"command,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewRoomEvent stamps a new event with a fresh ID
func NewRoomEvent(roomID string, eventType EventType, command string, snapshot json.RawMessage, at time.Time) RoomEvent {
	return RoomEvent{
		ID:         uuid.New(),
		RoomID:     roomID,
		Type:       eventType,
		Command:    command,
		Snapshot:   snapshot,
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers room events to an external system
type Publisher interface {
	Publish(ctx context.Context, event RoomEvent) error
}

// Sink accepts events without blocking the caller
type Sink interface {
	Emit(event RoomEvent)
}

// NoopSink discards every event
type NoopSink struct{}

func (NoopSink) Emit(RoomEvent) {}
