package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DispatcherConfig holds configuration for the event dispatcher
type DispatcherConfig struct {
	BufferSize     int
	PublishTimeout time.Duration
}

// DefaultDispatcherConfig returns default dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize:     1000,
		PublishTimeout: 5 * time.Second,
	}
}

// Dispatcher decouples room mutations from slow publishers. Emit never
// blocks; events are dropped with a warning when the buffer is full.
type Dispatcher struct {
	ch         chan RoomEvent
	publishers []Publisher
	config     DispatcherConfig

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	mu            sync.Mutex
	running       bool
	lastEventTime time.Time
}

// NewDispatcher creates a dispatcher fanning out to the given publishers
func NewDispatcher(config DispatcherConfig, publishers ...Publisher) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultDispatcherConfig().BufferSize
	}
	return &Dispatcher{
		ch:         make(chan RoomEvent, config.BufferSize),
		publishers: publishers,
		config:     config,
	}
}

// Emit queues an event for publishing
func (d *Dispatcher) Emit(event RoomEvent) {
	select {
	case d.ch <- event:
	default:
		d.dropped.Add(1)
		log.Warn().
			Str("room_id", event.RoomID).
			Str("event_type", string(event.Type)).
			Msg("event buffer full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.setRunning(true)
	defer d.setRunning(false)

	log.Info().Int("publishers", len(d.publishers)).Msg("event dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event dispatcher shutting down")
			return
		case event := <-d.ch:
			d.publish(ctx, event)
		}
	}
}

func (d *Dispatcher) setRunning(running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = running
}

func (d *Dispatcher) publish(ctx context.Context, event RoomEvent) {
	for _, p := range d.publishers {
		pubCtx, cancel := context.WithTimeout(ctx, d.config.PublishTimeout)
		err := p.Publish(pubCtx, event)
		cancel()
		if err == nil {
			d.published.Add(1)
			d.mu.Lock()
			d.lastEventTime = time.Now()
			d.mu.Unlock()
			continue
		}
		d.failed.Add(1)
		log.Error().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("room_id", event.RoomID).
			Str("event_type", string(event.Type)).
			Msg("failed to publish room event")
	}
}
