package gateway

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
	"github.com/mcdev12/cuetimer/go/internal/events"
	"github.com/mcdev12/cuetimer/go/internal/rooms"
)

// Hub routes inbound messages to rooms. It implements MessageHandler.
type Hub struct {
	registry    *rooms.Registry
	members     *Membership
	broadcaster *Broadcaster
	clock       clockwork.Clock
}

// NewHub creates a hub over the given registry and membership table
func NewHub(registry *rooms.Registry, members *Membership, broadcaster *Broadcaster, clock clockwork.Clock) *Hub {
	return &Hub{
		registry:    registry,
		members:     members,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

// HandleConnect seats a freshly upgraded connection
func (h *Hub) HandleConnect(c *Connection, roomID string, role Role) {
	h.join(c, roomID, role)
}

// HandleDisconnect removes the connection from its room. Room state is left
// untouched.
func (h *Hub) HandleDisconnect(c *Connection) {
	if seat, ok := h.members.Detach(c); ok {
		log.Debug().
			Str("connection_id", c.ID).
			Str("room_id", seat.RoomID).
			Msg("connection left room")
	}
}

// HandleMessage processes one inbound message. Anything that cannot be
// applied is dropped without a reply.
func (h *Hub) HandleMessage(c *Connection, data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("dropping malformed message")
		return
	}

	switch env.Type {
	case MessageJoin:
		p, err := ParseJoin(env.Payload)
		if err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("dropping malformed join")
			return
		}
		h.join(c, p.RoomID, ParseRole(p.Role))

	case MessageLeave:
		h.HandleDisconnect(c)

	case MessageRequestSnapshot:
		seat, ok := h.members.Seat(c)
		if !ok {
			log.Debug().Str("connection_id", c.ID).Msg("snapshot requested outside a room")
			return
		}
		h.sendCurrent(c, seat.RoomID)

	case MessageSetThresholds:
		// Thresholds are fixed server side
		log.Debug().Str("connection_id", c.ID).Msg("ignoring setThresholds")

	default:
		h.command(c, env)
	}
}

func (h *Hub) join(c *Connection, rawRoomID string, role Role) {
	roomID := rooms.NormalizeCode(rawRoomID)
	prev, had, err := h.members.Attach(c, roomID, role)
	if err != nil {
		log.Debug().Err(err).
			Str("connection_id", c.ID).
			Str("room_id", roomID).
			Msg("dropping join")
		return
	}

	logger := log.Debug().
		Str("connection_id", c.ID).
		Str("room_id", roomID).
		Str("role", string(role))
	if had && prev.RoomID != roomID {
		logger = logger.Str("previous_room_id", prev.RoomID)
	}
	logger.Msg("connection joined room")

	h.sendCurrent(c, roomID)
}

// sendCurrent gives c the room's state as of now. If the deadline has passed
// since the last tick the whole room hears about it.
func (h *Hub) sendCurrent(c *Connection, roomID string) {
	now := h.clock.Now()
	t := now.UnixMilli()

	h.registry.Update(roomID, func(r *countdown.Room) {
		finalized := r.Finalize(t)
		snap := countdown.NewSnapshot(r, t)
		if !finalized {
			h.broadcaster.Send(c, snap)
			return
		}
		h.broadcaster.Publish(snap)
		h.broadcaster.emit(events.EventTypeRoomFinished, "", snap, now)
	})
}

func (h *Hub) command(c *Connection, env Envelope) {
	seat, ok := h.members.Seat(c)
	if !ok {
		log.Debug().
			Str("connection_id", c.ID).
			Str("command", string(env.Type)).
			Msg("dropping command from connection outside a room")
		return
	}

	cmd, err := countdown.ParseCommand(string(env.Type), env.Payload)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, countdown.ErrUnknownCommand) {
			reason = "unknown"
		}
		log.Debug().Err(err).
			Str("connection_id", c.ID).
			Str("room_id", seat.RoomID).
			Str("reason", reason).
			Str("command", string(env.Type)).
			Msg("dropping command")
		return
	}

	if !seat.Role.CanMutate() {
		log.Warn().
			Str("connection_id", c.ID).
			Str("room_id", seat.RoomID).
			Str("role", string(seat.Role)).
			Str("command", string(cmd.Kind)).
			Msg("dropping command from read-only connection")
		return
	}

	h.apply(seat.RoomID, cmd, h.clock.Now())
}

// apply runs cmd against the room at now and broadcasts the result if
// anything changed.
func (h *Hub) apply(roomID string, cmd countdown.Command, now time.Time) {
	t := now.UnixMilli()

	h.registry.Update(roomID, func(r *countdown.Room) {
		finalized := r.Finalize(t)
		applied := r.Apply(cmd, t)
		if !finalized && !applied {
			log.Debug().
				Str("room_id", roomID).
				Str("command", string(cmd.Kind)).
				Str("status", string(r.Status)).
				Msg("command left room unchanged")
			return
		}

		snap := countdown.NewSnapshot(r, t)
		h.broadcaster.Publish(snap)

		if finalized {
			h.broadcaster.emit(events.EventTypeRoomFinished, "", snap, now)
		}
		if applied {
			log.Info().
				Str("room_id", roomID).
				Str("command", string(cmd.Kind)).
				Str("status", string(snap.Status)).
				Int64("remaining_ms", snap.RemainingMs).
				Msg("command applied")
			h.broadcaster.emit(events.EventTypeCommandApplied, string(cmd.Kind), snap, now)
		}
	})
}

// Snapshot returns the room's state as of now without mutating it
func (h *Hub) Snapshot(roomID string) (countdown.Snapshot, bool) {
	t := h.clock.Now().UnixMilli()

	var snap countdown.Snapshot
	ok := h.registry.Lookup(roomID, func(r *countdown.Room) {
		view := r.Clone()
		view.Finalize(t)
		snap = countdown.NewSnapshot(view, t)
	})
	return snap, ok
}

// Evicted reports rooms removed by the registry sweep
func (h *Hub) Evicted(roomIDs []string) {
	h.broadcaster.Forget(roomIDs)
	now := h.clock.Now()
	for _, roomID := range roomIDs {
		h.broadcaster.sink.Emit(events.NewRoomEvent(roomID, events.EventTypeRoomEvicted, "", nil, now))
	}
}
