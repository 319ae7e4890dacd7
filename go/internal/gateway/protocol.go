package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
)

// MessageType is the "type" field of a wire message
type MessageType string

const (
	MessageJoin            MessageType = "join"
	MessageLeave           MessageType = "leave"
	MessageRequestSnapshot MessageType = "requestSnapshot"
	MessageSetThresholds   MessageType = "setThresholds"
	MessageSnapshot        MessageType = "snapshot"
)

// Role determines what a connection may do in its room
type Role string

const (
	RoleControl Role = "control"
	RoleDisplay Role = "display"
)

// ParseRole maps anything but "control" to the read-only display role.
func ParseRole(s string) Role {
	if Role(s) == RoleControl {
		return RoleControl
	}
	return RoleDisplay
}

// CanMutate reports whether the role may send state-changing commands
func (r Role) CanMutate() bool {
	return r == RoleControl
}

var errEmptyType = errors.New("message has no type")

// Envelope is the outer shape of every message in both directions
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload is sent by clients to switch room and/or role
type JoinPayload struct {
	RoomID string `json:"roomId"`
	Role   string `json:"role"`
}

// ParseEnvelope decodes an inbound message
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", countdown.ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: %v", countdown.ErrMalformed, errEmptyType)
	}
	return env, nil
}

// ParseJoin decodes a join payload
func ParseJoin(payload json.RawMessage) (JoinPayload, error) {
	var p JoinPayload
	if len(payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return JoinPayload{}, fmt.Errorf("%w: %v", countdown.ErrMalformed, err)
	}
	return p, nil
}

// EncodeSnapshot produces the outbound snapshot message
func EncodeSnapshot(s countdown.Snapshot) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return json.Marshal(Envelope{Type: MessageSnapshot, Payload: payload})
}
