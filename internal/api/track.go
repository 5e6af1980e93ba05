package api

import (
	"encoding/json"
	"net/http"

	"github.com/pushfleet/pushfleet/internal/store"
)

type TrackHandler struct {
	store *store.PostgresStore
}

func NewTrackHandler(s *store.PostgresStore) *TrackHandler {
	return &TrackHandler{store: s}
}

type clickRequest struct {
	NotificationID string `json:"notification_id"`
	Endpoint       string `json:"endpoint"`
}

// Click records that a subscriber tapped the notification. The service
// worker reports the notification ID from the push payload and its own
// push endpoint; the ledger row is resolved from that pair.
func (h *TrackHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.NotificationID == "" {
		respondError(w, http.StatusBadRequest, "notification_id is required")
		return
	}
	if req.Endpoint == "" {
		respondError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	sub, err := h.store.GetSubscriberByEndpoint(r.Context(), req.Endpoint)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	delivery, err := h.store.RecordClick(r.Context(), req.NotificationID, sub.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record click")
		return
	}
	if delivery == nil {
		respondError(w, http.StatusNotFound, "delivery not found")
		return
	}

	respondJSON(w, http.StatusOK, delivery)
}
