package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleControl, ParseRole("control"))
	assert.Equal(t, RoleDisplay, ParseRole("display"))
	assert.Equal(t, RoleDisplay, ParseRole("admin"))
	assert.Equal(t, RoleDisplay, ParseRole(""))
	assert.True(t, RoleControl.CanMutate())
	assert.False(t, RoleDisplay.CanMutate())
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"start","payload":{"durationMs":1000}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageType("start"), env.Type)
	assert.JSONEq(t, `{"durationMs":1000}`, string(env.Payload))

	_, err = ParseEnvelope([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, countdown.ErrMalformed)

	_, err = ParseEnvelope([]byte(`[`))
	assert.ErrorIs(t, err, countdown.ErrMalformed)
}

func TestParseJoin(t *testing.T) {
	p, err := ParseJoin(json.RawMessage(`{"roomId":"abc","role":"control"}`))
	require.NoError(t, err)
	assert.Equal(t, JoinPayload{RoomID: "abc", Role: "control"}, p)

	p, err = ParseJoin(nil)
	require.NoError(t, err)
	assert.Equal(t, JoinPayload{}, p)

	_, err = ParseJoin(json.RawMessage(`42`))
	assert.ErrorIs(t, err, countdown.ErrMalformed)
}

func TestEncodeSnapshot(t *testing.T) {
	r := countdown.NewRoom("ABC", 90000, 1000)
	data, err := EncodeSnapshot(countdown.NewSnapshot(r, 2000))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "snapshot",
		"payload": {
			"roomId": "ABC",
			"status": "idle",
			"durationMs": 90000,
			"deadlineMs": null,
			"remainingMs": 90000,
			"yellowAtMs": 60000,
			"redAtMs": 30000,
			"serverNow": 2000,
			"updatedAt": 1000,
			"elapsedMs": 0,
			"startedAt": null
		}
	}`, string(data))
}
