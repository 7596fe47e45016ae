package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/api/middleware"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ParticipantHandler struct {
	store     domain.ParticipantStore
	scheduler *service.ReviewScheduler
}

func NewParticipantHandler(store domain.ParticipantStore, scheduler *service.ReviewScheduler) *ParticipantHandler {
	return &ParticipantHandler{store: store, scheduler: scheduler}
}

type createParticipantRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"` // worker, human
	Capacity   int    `json:"capacity,omitempty"`
}

func (h *ParticipantHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !domain.ValidParticipantKind(req.Kind) {
		writeError(w, http.StatusBadRequest, "invalid kind (worker, human)")
		return
	}

	p := &domain.Participant{
		TenantID:   tenant.ID,
		ExternalID: req.ExternalID,
		Name:       req.Name,
		Kind:       domain.ParticipantKind(req.Kind),
	}
	if err := h.store.Create(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create participant")
		return
	}

	// Humans double as reviewers.
	if p.Kind == domain.ParticipantHuman {
		capacity := req.Capacity
		if capacity <= 0 {
			capacity = service.DefaultReviewerCapacity
		}
		h.scheduler.RegisterReviewer(p.ID, capacity)
	}

	writeJSON(w, http.StatusCreated, p)
}

func (h *ParticipantHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant id")
		return
	}

	p, err := h.store.GetByID(r.Context(), id, tenant.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "participant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get participant")
		return
	}

	writeJSON(w, http.StatusOK, p)
}
