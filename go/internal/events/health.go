package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger is implemented by publishers that can report whether their backend
// is reachable.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// HealthStatus summarises the event pipeline
type HealthStatus struct {
	Healthy         bool              `json:"healthy"`
	DispatcherUp    bool              `json:"dispatcher_running"`
	EventsPublished uint64            `json:"events_published"`
	EventsFailed    uint64            `json:"events_failed"`
	EventsDropped   uint64            `json:"events_dropped"`
	PendingEvents   int               `json:"pending_events"`
	LastEventTime   time.Time         `json:"last_event_time"`
	Publishers      map[string]string `json:"publishers"`
	Errors          []string          `json:"errors"`
}

// Check reports the dispatcher's counters and pings every publisher that
// supports it.
func (d *Dispatcher) Check(ctx context.Context) HealthStatus {
	d.mu.Lock()
	status := HealthStatus{
		Healthy:       true,
		DispatcherUp:  d.running,
		LastEventTime: d.lastEventTime,
	}
	d.mu.Unlock()

	status.EventsPublished = d.published.Load()
	status.EventsFailed = d.failed.Load()
	status.EventsDropped = d.dropped.Load()
	status.PendingEvents = len(d.ch)
	status.Publishers = make(map[string]string, len(d.publishers))
	status.Errors = []string{}

	if !status.DispatcherUp {
		status.Healthy = false
		status.Errors = append(status.Errors, "dispatcher not running")
	}

	for _, p := range d.publishers {
		pinger, ok := p.(Pinger)
		if !ok {
			continue
		}
		if err := pinger.Ping(ctx); err != nil {
			status.Healthy = false
			status.Publishers[pinger.Name()] = "down"
			status.Errors = append(status.Errors, fmt.Sprintf("%s: %v", pinger.Name(), err))
			continue
		}
		status.Publishers[pinger.Name()] = "up"
	}

	// Alert if the buffer is close to dropping
	if status.PendingEvents > cap(d.ch)*9/10 {
		status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", status.PendingEvents))
	}

	return status
}

// HealthHandler serves the dispatcher's health as JSON
func (d *Dispatcher) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := d.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Error().Err(err).Msg("failed to write event health")
		}
	})
}

// WriteMetrics writes the status in Prometheus text exposition format
func (s HealthStatus) WriteMetrics(w io.Writer) error {
	healthy := 0
	if s.Healthy {
		healthy = 1
	}

	_, err := fmt.Fprintf(w, `# HELP cuetimer_events_healthy Whether the event pipeline is healthy
# TYPE cuetimer_events_healthy gauge
cuetimer_events_healthy %d

# HELP cuetimer_events_published_total Events delivered to a publisher
# TYPE cuetimer_events_published_total counter
cuetimer_events_published_total %d

# HELP cuetimer_events_failed_total Publish attempts that returned an error
# TYPE cuetimer_events_failed_total counter
cuetimer_events_failed_total %d

# HELP cuetimer_events_dropped_total Events dropped because the buffer was full
# TYPE cuetimer_events_dropped_total counter
cuetimer_events_dropped_total %d

# HELP cuetimer_events_pending Events waiting in the dispatcher buffer
# TYPE cuetimer_events_pending gauge
cuetimer_events_pending %d
`, healthy, s.EventsPublished, s.EventsFailed, s.EventsDropped, s.PendingEvents)
	return err
}
