package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/rooms"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	members           *Membership
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, members *Membership) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		members:           members,
	}
}

// HandleRoomConnection upgrades /ws?room=<code>&role=<control|display>. A
// missing room code lands in the default room; a missing role is display.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomID := rooms.NormalizeCode(query.Get("room"))
	role := ParseRole(query.Get("role"))

	if err := h.connectionManager.UpgradeConnection(w, r, roomID, role); err != nil {
		// The upgrader has already written an HTTP error
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("role", string(role)).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.members.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
