package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
	"github.com/pushfleet/pushfleet/internal/store"
)

type SubscriberHandler struct {
	store *store.PostgresStore
}

func NewSubscriberHandler(s *store.PostgresStore) *SubscriberHandler {
	return &SubscriberHandler{store: s}
}

// Subscribe registers (or refreshes) a browser push subscription under a
// client's domain. The endpoint is the natural key: re-subscribing from
// the same browser updates the row instead of duplicating it.
func (h *SubscriberHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	var req domain.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DomainID == "" {
		respondError(w, http.StatusBadRequest, "domain_id is required")
		return
	}
	if req.Endpoint == "" {
		respondError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if req.Keys.P256dh == "" || req.Keys.Auth == "" {
		respondError(w, http.StatusBadRequest, "keys.p256dh and keys.auth are required")
		return
	}

	sub, err := h.store.UpsertSubscriber(r.Context(), clientID, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe deactivates an endpoint. The row stays so the ledger keeps
// resolving historical deliveries.
func (h *SubscriberHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Endpoint == "" {
		respondError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	found, err := h.store.DeactivateByEndpoint(r.Context(), req.Endpoint)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func (h *SubscriberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscriber(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriberHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	limitStr := r.URL.Query().Get("limit")

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	subscribers, err := h.store.ListSubscribers(r.Context(), clientID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscribers")
		return
	}

	respondJSON(w, http.StatusOK, subscribers)
}
