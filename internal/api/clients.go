package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pushfleet/pushfleet/internal/domain"
	"github.com/pushfleet/pushfleet/internal/store"
)

type ClientHandler struct {
	store *store.PostgresStore
}

func NewClientHandler(s *store.PostgresStore) *ClientHandler {
	return &ClientHandler{store: s}
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	client, err := h.store.CreateClient(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create client")
		return
	}

	// Provision the initial signing keys so pushes work out of the box.
	if _, err := h.store.RotateVapidKey(r.Context(), client.ID, "mailto:"+client.Email); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to provision vapid keys")
		return
	}

	respondJSON(w, http.StatusCreated, client)
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clients")
		return
	}

	respondJSON(w, http.StatusOK, clients)
}

func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	client, err := h.store.GetClient(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get client")
		return
	}
	if client == nil {
		respondError(w, http.StatusNotFound, "client not found")
		return
	}

	respondJSON(w, http.StatusOK, client)
}

func (h *ClientHandler) CreateDomain(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	var req domain.CreateDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	d, err := h.store.CreateDomain(r.Context(), clientID, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create domain")
		return
	}

	respondJSON(w, http.StatusCreated, d)
}

func (h *ClientHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	domains, err := h.store.ListDomains(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}

	respondJSON(w, http.StatusOK, domains)
}

// VapidPublicKey returns what the browser SDK needs to call
// pushManager.subscribe: the client's active public key.
func (h *ClientHandler) VapidPublicKey(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	key, err := h.store.ActiveVapidKey(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get vapid key")
		return
	}
	if key == nil {
		respondError(w, http.StatusNotFound, "no active vapid key for client")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"public_key": key.PublicKey})
}

func (h *ClientHandler) RotateVapidKey(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	client, err := h.store.GetClient(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get client")
		return
	}
	if client == nil {
		respondError(w, http.StatusNotFound, "client not found")
		return
	}

	key, err := h.store.RotateVapidKey(r.Context(), clientID, "mailto:"+client.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to rotate vapid keys")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"public_key": key.PublicKey})
}
