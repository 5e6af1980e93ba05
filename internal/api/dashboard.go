package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pushfleet/pushfleet/internal/engine"
	"github.com/pushfleet/pushfleet/internal/store"
	ws "github.com/pushfleet/pushfleet/internal/websocket"
)

type DashboardHandler struct {
	store   *store.PostgresStore
	hub     *ws.Hub
	breaker *engine.CircuitBreaker
}

func NewDashboardHandler(s *store.PostgresStore, hub *ws.Hub, breaker *engine.CircuitBreaker) *DashboardHandler {
	return &DashboardHandler{store: s, hub: hub, breaker: breaker}
}

// Metrics returns aggregated system metrics for the dashboard.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.GetDeliveryMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	type metricsResponse struct {
		store.DeliveryMetrics
		WebSocketClients int `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		DeliveryMetrics:  *metrics,
		WebSocketClients: h.hub.ClientCount(),
	})
}

// CircuitState reports the circuit breaker state for one push-service host,
// e.g. fcm.googleapis.com. Useful when a campaign's failures cluster on a
// single browser vendor.
func (h *DashboardHandler) CircuitState(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		respondError(w, http.StatusServiceUnavailable, "circuit breaker not enabled")
		return
	}

	host := chi.URLParam(r, "host")
	if host == "" {
		respondError(w, http.StatusBadRequest, "host is required")
		return
	}

	respondJSON(w, http.StatusOK, h.breaker.GetState(r.Context(), host))
}
