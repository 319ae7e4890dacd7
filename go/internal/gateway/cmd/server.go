package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/events"
	"github.com/mcdev12/cuetimer/go/internal/gateway"
)

func setupServer(port string, gatewayService *gateway.Service, dispatcher *events.Dispatcher) *http.Server {
	mux := http.NewServeMux()

	// WebSocket rooms and the inspection RPC
	gatewayService.RegisterRoutes(mux)

	// Add health check endpoints
	setupHealthCheck(mux)
	mux.Handle("/health/events", dispatcher.HealthHandler())
	setupMetrics(mux, gatewayService, dispatcher)

	// WebSocket connections are long lived, so no read/write timeouts here;
	// the connection pumps enforce their own deadlines.
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           gatewayService.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func setupMetrics(mux *http.ServeMux, gatewayService *gateway.Service, dispatcher *events.Dispatcher) {
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := gatewayService.Stats()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, `# HELP cuetimer_connections Open WebSocket connections
# TYPE cuetimer_connections gauge
cuetimer_connections %d

# HELP cuetimer_active_rooms Rooms with at least one connection
# TYPE cuetimer_active_rooms gauge
cuetimer_active_rooms %d

# HELP cuetimer_controllers Connections holding the control role
# TYPE cuetimer_controllers gauge
cuetimer_controllers %d

# HELP cuetimer_snapshot_encodes_total Snapshots serialised for fan-out
# TYPE cuetimer_snapshot_encodes_total counter
cuetimer_snapshot_encodes_total %d

`, stats.TotalConnections, stats.ActiveRooms, stats.Controllers, gatewayService.SnapshotEncodes())

		if err := dispatcher.Check(ctx).WriteMetrics(w); err != nil {
			log.Error().Err(err).Msg("failed to write metrics")
		}
	})
}
