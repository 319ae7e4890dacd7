package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
	"github.com/mcdev12/cuetimer/go/internal/events"
	"github.com/mcdev12/cuetimer/go/internal/rooms"
)

// DefaultHeartbeatInterval keeps displays converged between commands
const DefaultHeartbeatInterval = 250 * time.Millisecond

type encodedSnapshot struct {
	version   uint64
	serverNow int64
	data      []byte
}

// Broadcaster serialises room snapshots and fans them out to room members,
// both after mutations and on a fixed heartbeat.
type Broadcaster struct {
	registry *rooms.Registry
	members  *Membership
	clock    clockwork.Clock
	sink     events.Sink
	interval time.Duration

	// last encoded snapshot per room
	cacheMu sync.Mutex
	cache   map[string]encodedSnapshot

	encodes atomic.Uint64
}

// NewBroadcaster creates a broadcaster
func NewBroadcaster(registry *rooms.Registry, members *Membership, clock clockwork.Clock, sink events.Sink, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Broadcaster{
		registry: registry,
		members:  members,
		clock:    clock,
		sink:     sink,
		interval: interval,
		cache:    make(map[string]encodedSnapshot),
	}
}

// encode returns the wire bytes for s, reusing the previous encoding when the
// room version and server instant are unchanged.
func (b *Broadcaster) encode(s countdown.Snapshot) ([]byte, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	if cached, ok := b.cache[s.RoomID]; ok && cached.version == s.Version() && cached.serverNow == s.ServerNow {
		return cached.data, nil
	}

	data, err := EncodeSnapshot(s)
	if err != nil {
		return nil, err
	}
	b.encodes.Add(1)
	b.cache[s.RoomID] = encodedSnapshot{version: s.Version(), serverNow: s.ServerNow, data: data}
	return data, nil
}

// Send delivers a snapshot to a single connection
func (b *Broadcaster) Send(c *Connection, s countdown.Snapshot) bool {
	data, err := b.encode(s)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.RoomID).Msg("failed to encode snapshot")
		return false
	}
	if !c.Enqueue(data) {
		b.dropSlow(c)
		return false
	}
	return true
}

// Publish delivers a snapshot to every member of the snapshot's room. Call it
// while holding the room so snapshots leave in mutation order.
func (b *Broadcaster) Publish(s countdown.Snapshot) int {
	targets := b.members.Members(s.RoomID)
	if len(targets) == 0 {
		return 0
	}

	// Marshal once for every member
	data, err := b.encode(s)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.RoomID).Msg("failed to encode snapshot")
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c.Enqueue(data) {
			delivered++
			continue
		}
		b.dropSlow(c)
	}
	return delivered
}

func (b *Broadcaster) dropSlow(c *Connection) {
	log.Warn().
		Str("connection_id", c.ID).
		Msg("connection send buffer full or closed, dropping connection")
	c.Drop()
}

// Forget discards cached encodings for evicted rooms
func (b *Broadcaster) Forget(roomIDs []string) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	for _, id := range roomIDs {
		delete(b.cache, id)
	}
}

// Encodes returns how many snapshots have been serialised
func (b *Broadcaster) Encodes() uint64 {
	return b.encodes.Load()
}

// Tick runs one heartbeat at now: every occupied, non-idle room gets the
// elapse check and a fresh snapshot stamped with the same instant.
func (b *Broadcaster) Tick(now time.Time) {
	t := now.UnixMilli()

	for _, roomID := range b.members.ActiveRooms() {
		b.registry.Lookup(roomID, func(r *countdown.Room) {
			if r.Status == countdown.StatusIdle {
				return
			}

			finalized := r.Finalize(t)
			snap := countdown.NewSnapshot(r, t)
			b.Publish(snap)

			if finalized {
				log.Info().Str("room_id", roomID).Msg("countdown finished")
				b.emit(events.EventTypeRoomFinished, "", snap, now)
			}
		})
	}
}

func (b *Broadcaster) emit(eventType events.EventType, command string, snap countdown.Snapshot, at time.Time) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Str("room_id", snap.RoomID).Msg("failed to marshal snapshot for event")
		payload = nil
	}
	b.sink.Emit(events.NewRoomEvent(snap.RoomID, eventType, command, payload, at))
}

// Run drives the heartbeat until ctx is cancelled
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", b.interval).Msg("snapshot heartbeat started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("snapshot heartbeat shutting down")
			return
		case <-ticker.Chan():
			b.Tick(b.clock.Now())
		}
	}
}
