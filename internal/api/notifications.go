package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
	"github.com/pushfleet/pushfleet/internal/store"
)

type NotificationHandler struct {
	store *store.PostgresStore
}

func NewNotificationHandler(s *store.PostgresStore) *NotificationHandler {
	return &NotificationHandler{store: s}
}

// Create stores a campaign. With a scheduled_at it goes straight to
// "scheduled" and the dispatch sweep picks it up when due; without one it
// stays a draft until POST .../schedule.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ClientID == "" {
		respondError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Body == "" {
		respondError(w, http.StatusBadRequest, "body is required")
		return
	}

	n, err := h.store.CreateNotification(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create notification")
		return
	}

	respondJSON(w, http.StatusCreated, n)
}

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Schedule moves a draft to scheduled. Omitting scheduled_at means "send
// now": the notification becomes due on the next dispatch sweep.
func (h *NotificationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	at := time.Now()
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
	}

	n, err := h.store.ScheduleNotification(r.Context(), id, at)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to schedule notification")
		return
	}
	if n == nil {
		respondError(w, http.StatusConflict, "notification not found or not a draft")
		return
	}

	respondJSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	status := r.URL.Query().Get("status")
	limitStr := r.URL.Query().Get("limit")

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	notifications, err := h.store.ListNotifications(r.Context(), clientID, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	respondJSON(w, http.StatusOK, notifications)
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.store.GetNotification(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get notification")
		return
	}
	if n == nil {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}

	respondJSON(w, http.StatusOK, n)
}
