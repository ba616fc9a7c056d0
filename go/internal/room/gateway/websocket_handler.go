package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/studysync/go/internal/identity"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles websocket upgrade requests for study rooms.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	resolver          *identity.Resolver
	controller        *Controller
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(cm *ConnectionManager, resolver *identity.Resolver, controller *Controller) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		resolver:          resolver,
		controller:        controller,
	}
}

// HandleConnection upgrades the request. Credentials come from the
// Authorization header or the token query parameter; a bad or missing
// token still connects, as an anonymous identity.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	resolve := func(connectionID string) models.Identity {
		return h.resolver.ResolveRequest(r, connectionID)
	}
	if err := h.connectionManager.Upgrade(w, r, resolve, h.controller); err != nil {
		// the upgrader has already written the HTTP error
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
