package countdown

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseFor(t *testing.T) {
	assert.Equal(t, PhaseGreen, PhaseFor(60_001))
	assert.Equal(t, PhaseYellow, PhaseFor(60_000))
	assert.Equal(t, PhaseYellow, PhaseFor(30_001))
	assert.Equal(t, PhaseRed, PhaseFor(30_000))
	assert.Equal(t, PhaseRed, PhaseFor(0))
}

func TestNewSnapshot_Running(t *testing.T) {
	r := startedRoom(t, 180_000, 10_000)

	s := NewSnapshot(r, 40_000)

	assert.Equal(t, "ABC", s.RoomID)
	assert.Equal(t, StatusRunning, s.Status)
	require.NotNil(t, s.DeadlineMs)
	assert.Equal(t, int64(190_000), *s.DeadlineMs)
	assert.Equal(t, int64(150_000), s.RemainingMs)
	assert.Equal(t, int64(30_000), s.ElapsedMs)
	require.NotNil(t, s.StartedAt)
	assert.Equal(t, int64(10_000), *s.StartedAt)
	assert.Equal(t, int64(40_000), s.ServerNow)
	assert.Equal(t, YellowAtMs, s.YellowAtMs)
	assert.Equal(t, RedAtMs, s.RedAtMs)
	assert.Equal(t, r.Version, s.Version())
	assert.Equal(t, int64(150_000), s.BaseRemaining())

	// mutating the room afterwards must not leak into the snapshot
	r.Apply(Command{Kind: CommandAdjustTime, DeltaMs: 10_000}, 40_000)
	assert.Equal(t, int64(190_000), *s.DeadlineMs)
}

func TestNewSnapshot_PausedWireShape(t *testing.T) {
	r := startedRoom(t, 60_000, 0)
	require.True(t, r.Apply(Command{Kind: CommandPause}, 15_000))

	data, err := json.Marshal(NewSnapshot(r, 20_000))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "paused", wire["status"])
	assert.Nil(t, wire["deadlineMs"])
	assert.Nil(t, wire["startedAt"])
	assert.EqualValues(t, 45_000, wire["remainingMs"])
	assert.EqualValues(t, 15_000, wire["elapsedMs"])
	assert.EqualValues(t, 60_000, wire["yellowAtMs"])
	assert.EqualValues(t, 30_000, wire["redAtMs"])
	assert.EqualValues(t, 20_000, wire["serverNow"])
	assert.EqualValues(t, 15_000, wire["updatedAt"])
	assert.NotContains(t, wire, "version")
}
