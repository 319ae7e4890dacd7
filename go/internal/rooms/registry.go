package rooms

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
)

const (
	// MaxCodeLength is the longest room code kept after normalisation.
	MaxCodeLength = 8
	// DefaultCode is used when a client supplies no usable room code.
	DefaultCode = "MAIN"
)

// Config holds registry settings
type Config struct {
	DefaultDurationMs int64
	TTL               time.Duration
	SweepInterval     time.Duration
}

// DefaultConfig returns default registry configuration
func DefaultConfig() Config {
	return Config{
		DefaultDurationMs: countdown.DefaultDurationMs,
		TTL:               6 * time.Hour,
		SweepInterval:     10 * time.Minute,
	}
}

// entry pairs a room with the mutex that serialises everything touching it.
type entry struct {
	mu   sync.Mutex
	room *countdown.Room
}

// Registry owns every live room, keyed by normalised code.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*entry

	clock  clockwork.Clock
	config Config
}

// NewRegistry creates an empty registry
func NewRegistry(clock clockwork.Clock, config Config) *Registry {
	if config.DefaultDurationMs < countdown.MinDurationMs {
		config.DefaultDurationMs = countdown.DefaultDurationMs
	}
	return &Registry{
		rooms:  make(map[string]*entry),
		clock:  clock,
		config: config,
	}
}

// NormalizeCode uppercases raw, drops anything but ASCII letters and digits
// and truncates to MaxCodeLength. An empty result falls back to DefaultCode.
func NormalizeCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if b.Len() == MaxCodeLength {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return DefaultCode
	}
	return b.String()
}

func (reg *Registry) getOrCreate(code string) *entry {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	e, ok := reg.rooms[code]
	if !ok {
		e = &entry{room: countdown.NewRoom(code, reg.config.DefaultDurationMs, reg.clock.Now().UnixMilli())}
		reg.rooms[code] = e
		log.Debug().Str("room_id", code).Int("total_rooms", len(reg.rooms)).Msg("room created")
	}
	return e
}

func (reg *Registry) lookup(code string) (*entry, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.rooms[code]
	return e, ok
}

// Update runs fn with exclusive access to the room, creating it first if
// needed. fn must not block on I/O.
func (reg *Registry) Update(code string, fn func(r *countdown.Room)) {
	e := reg.getOrCreate(NormalizeCode(code))
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.room)
}

// Lookup runs fn with exclusive access to an existing room. It reports
// whether the room existed.
func (reg *Registry) Lookup(code string, fn func(r *countdown.Room)) bool {
	e, ok := reg.lookup(NormalizeCode(code))
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.room)
	return true
}

// Get returns a copy of the room's current state.
func (reg *Registry) Get(code string) (*countdown.Room, bool) {
	var out *countdown.Room
	ok := reg.Lookup(code, func(r *countdown.Room) {
		out = r.Clone()
	})
	return out, ok
}

// Codes lists the codes of all live rooms.
func (reg *Registry) Codes() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	codes := make([]string, 0, len(reg.rooms))
	for code := range reg.rooms {
		codes = append(codes, code)
	}
	return codes
}

// Len returns the number of live rooms
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Sweep evicts rooms that are not in use and have not been mutated for
// longer than the TTL. inUse is called with the registry lock held.
func (reg *Registry) Sweep(now time.Time, inUse func(code string) bool) []string {
	cutoff := now.Add(-reg.config.TTL).UnixMilli()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	var evicted []string
	for code, e := range reg.rooms {
		if inUse(code) {
			continue
		}
		e.mu.Lock()
		stale := e.room.UpdatedAt < cutoff
		e.mu.Unlock()
		if !stale {
			continue
		}
		delete(reg.rooms, code)
		evicted = append(evicted, code)
	}

	if len(evicted) > 0 {
		log.Info().
			Strs("room_ids", evicted).
			Int("remaining_rooms", len(reg.rooms)).
			Msg("evicted idle rooms")
	}
	return evicted
}

// Run sweeps on a fixed interval until ctx is cancelled. onEvict, when
// non-nil, receives the codes removed by each sweep.
func (reg *Registry) Run(ctx context.Context, inUse func(code string) bool, onEvict func(codes []string)) {
	ticker := reg.clock.NewTicker(reg.config.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", reg.config.SweepInterval).
		Dur("ttl", reg.config.TTL).
		Msg("room sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room sweeper shutting down")
			return
		case <-ticker.Chan():
			evicted := reg.Sweep(reg.clock.Now(), inUse)
			if len(evicted) > 0 && onEvict != nil {
				onEvict(evicted)
			}
		}
	}
}
