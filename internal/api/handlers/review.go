package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arbiterhq/arbiter/internal/api/middleware"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ReviewHandler struct {
	scheduler *service.ReviewScheduler
	store     domain.ReviewStore
}

func NewReviewHandler(scheduler *service.ReviewScheduler, reviewStore domain.ReviewStore) *ReviewHandler {
	return &ReviewHandler{scheduler: scheduler, store: reviewStore}
}

func (h *ReviewHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	items, err := h.store.ListPending(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list review items")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (h *ReviewHandler) Next(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	reviewerIDStr := r.URL.Query().Get("reviewer_id")
	if reviewerIDStr == "" {
		writeError(w, http.StatusBadRequest, "reviewer_id is required")
		return
	}
	reviewerID, err := uuid.Parse(reviewerIDStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reviewer_id")
		return
	}

	item, err := h.scheduler.Dequeue(r.Context(), reviewerID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoReviewer):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrQueueEmpty):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to dequeue review item")
		}
		return
	}

	writeJSON(w, http.StatusOK, item)
}

type decideRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Verdict    string `json:"verdict"`
	WinnerID   string `json:"winner_id,omitempty"`
	Note       string `json:"note,omitempty"`
}

func (h *ReviewHandler) Decide(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid review item id")
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reviewerID, err := uuid.Parse(req.ReviewerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reviewer_id")
		return
	}
	if !domain.ValidReviewVerdict(req.Verdict) {
		writeError(w, http.StatusBadRequest, "invalid verdict")
		return
	}

	decision := domain.ReviewDecision{
		ItemID:     itemID,
		ReviewerID: reviewerID,
		Verdict:    domain.ReviewVerdict(req.Verdict),
		Note:       req.Note,
		DecidedAt:  time.Now(),
	}
	if req.WinnerID != "" {
		winnerID, err := uuid.Parse(req.WinnerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid winner_id")
			return
		}
		decision.WinnerID = &winnerID
	}

	if err := h.scheduler.Decide(r.Context(), decision); err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotQueued):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNoReviewer):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to record decision")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "decided"})
}
