package gateway

import (
	"errors"
	"sync"
)

// ErrConnectionClosed is returned when seating a connection that has already
// been torn down.
var ErrConnectionClosed = errors.New("connection closed")

// Seat is a connection's place in a room
type Seat struct {
	RoomID string
	Role   Role
}

// Membership tracks which connections sit in which room. A connection is in
// at most one room at a time.
type Membership struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
	seats map[*Connection]Seat
}

// NewMembership creates an empty membership table
func NewMembership() *Membership {
	return &Membership{
		rooms: make(map[string]map[*Connection]struct{}),
		seats: make(map[*Connection]Seat),
	}
}

// Attach seats c in roomID with role, leaving any previous room in the same
// critical section. It returns the previous seat, if any. Closed connections
// are refused; teardown closes before it detaches.
func (m *Membership) Attach(c *Connection, roomID string, role Role) (Seat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Closed() {
		return Seat{}, false, ErrConnectionClosed
	}

	prev, had := m.seats[c]
	if had {
		m.removeLocked(c, prev.RoomID)
	}

	members := m.rooms[roomID]
	if members == nil {
		members = make(map[*Connection]struct{})
		m.rooms[roomID] = members
	}
	members[c] = struct{}{}
	m.seats[c] = Seat{RoomID: roomID, Role: role}

	return prev, had, nil
}

// Detach removes c from its room. Calling it again is a no-op.
func (m *Membership) Detach(c *Connection) (Seat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seat, ok := m.seats[c]
	if !ok {
		return Seat{}, false
	}
	m.removeLocked(c, seat.RoomID)
	delete(m.seats, c)
	return seat, true
}

func (m *Membership) removeLocked(c *Connection, roomID string) {
	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}
}

// Seat returns the current seat of c
func (m *Membership) Seat(c *Connection) (Seat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seat, ok := m.seats[c]
	return seat, ok
}

// Members returns a copy of the room's member list
func (m *Membership) Members(roomID string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.rooms[roomID]
	out := make([]*Connection, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Count returns the number of members in a room
func (m *Membership) Count(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomID])
}

// InUse reports whether any connection sits in the room
func (m *Membership) InUse(roomID string) bool {
	return m.Count(roomID) > 0
}

// ActiveRooms lists rooms with at least one member
func (m *Membership) ActiveRooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		out = append(out, roomID)
	}
	return out
}

// Stats summarises membership
type Stats struct {
	TotalConnections int            `json:"totalConnections"`
	ActiveRooms      int            `json:"activeRooms"`
	RoomConnections  map[string]int `json:"roomConnections"`
	Controllers      int            `json:"controllers"`
}

// Stats returns membership statistics
func (m *Membership) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		TotalConnections: len(m.seats),
		ActiveRooms:      len(m.rooms),
		RoomConnections:  make(map[string]int, len(m.rooms)),
	}
	for roomID, members := range m.rooms {
		s.RoomConnections[roomID] = len(members)
	}
	for _, seat := range m.seats {
		if seat.Role == RoleControl {
			s.Controllers++
		}
	}
	return s
}
