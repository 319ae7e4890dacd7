package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembership_AttachSwitchesRooms(t *testing.T) {
	m := NewMembership()
	c := newConnection(1)

	_, had, err := m.Attach(c, "A", RoleDisplay)
	require.NoError(t, err)
	assert.False(t, had)

	prev, had, err := m.Attach(c, "B", RoleControl)
	require.NoError(t, err)
	require.True(t, had)
	assert.Equal(t, Seat{RoomID: "A", Role: RoleDisplay}, prev)

	assert.Equal(t, 0, m.Count("A"))
	assert.Equal(t, 1, m.Count("B"))
	assert.Equal(t, []string{"B"}, m.ActiveRooms())

	seat, ok := m.Seat(c)
	require.True(t, ok)
	assert.Equal(t, RoleControl, seat.Role)
}

func TestMembership_DetachIsIdempotent(t *testing.T) {
	m := NewMembership()
	a := newConnection(1)
	b := newConnection(1)
	m.Attach(a, "A", RoleDisplay)
	m.Attach(b, "A", RoleDisplay)

	seat, ok := m.Detach(a)
	assert.True(t, ok)
	assert.Equal(t, "A", seat.RoomID)

	_, ok = m.Detach(a)
	assert.False(t, ok)
	assert.True(t, m.InUse("A"))

	m.Detach(b)
	assert.False(t, m.InUse("A"))
	assert.Empty(t, m.ActiveRooms())
	_, ok = m.Seat(b)
	assert.False(t, ok)
}

func TestMembership_AttachRefusesClosedConnection(t *testing.T) {
	m := NewMembership()
	c := newConnection(1)
	c.close()

	_, _, err := m.Attach(c, "A", RoleControl)
	require.ErrorIs(t, err, ErrConnectionClosed)

	_, ok := m.Seat(c)
	assert.False(t, ok)
	assert.False(t, m.InUse("A"))
}

func TestMembership_MembersReturnsCopy(t *testing.T) {
	m := NewMembership()
	c := newConnection(1)
	m.Attach(c, "A", RoleDisplay)

	members := m.Members("A")
	m.Detach(c)

	assert.Len(t, members, 1)
	assert.Empty(t, m.Members("A"))
}

func TestMembership_Stats(t *testing.T) {
	m := NewMembership()
	m.Attach(newConnection(1), "A", RoleControl)
	m.Attach(newConnection(1), "A", RoleDisplay)
	m.Attach(newConnection(1), "B", RoleDisplay)

	s := m.Stats()
	assert.Equal(t, 3, s.TotalConnections)
	assert.Equal(t, 2, s.ActiveRooms)
	assert.Equal(t, 1, s.Controllers)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, s.RoomConnections)
}
