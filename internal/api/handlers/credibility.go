package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/api/middleware"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/google/uuid"
)

type CredibilityHandler struct {
	svc *service.CredibilityService
}

func NewCredibilityHandler(svc *service.CredibilityService) *CredibilityHandler {
	return &CredibilityHandler{svc: svc}
}

type recordSampleRequest struct {
	ParticipantID string  `json:"participant_id"`
	Accuracy      float64 `json:"accuracy"`
	Sector        string  `json:"sector,omitempty"`
	Metric        string  `json:"metric,omitempty"`
	Regime        string  `json:"regime,omitempty"`
}

func (h *CredibilityHandler) RecordSample(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req recordSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant_id")
		return
	}
	if req.Accuracy < 0 || req.Accuracy > 1 {
		writeError(w, http.StatusBadRequest, "invalid accuracy (0-1)")
		return
	}

	cctx := domain.ClaimContext{Sector: req.Sector, Metric: req.Metric, Regime: req.Regime}
	if err := h.svc.Record(r.Context(), tenant.ID, participantID, cctx, req.Accuracy); err != nil {
		if errors.Is(err, service.ErrUnknownParticipant) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record sample")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (h *CredibilityHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	participantIDStr := r.URL.Query().Get("participant_id")
	if participantIDStr == "" {
		writeError(w, http.StatusBadRequest, "participant_id is required")
		return
	}
	participantID, err := uuid.Parse(participantIDStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant_id")
		return
	}

	cctx := domain.ClaimContext{
		Sector: r.URL.Query().Get("sector"),
		Metric: r.URL.Query().Get("metric"),
		Regime: r.URL.Query().Get("regime"),
	}

	score, err := h.svc.Score(r.Context(), participantID, cctx)
	if err != nil {
		if errors.Is(err, service.ErrNoCredibilityData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to compute score")
		return
	}

	writeJSON(w, http.StatusOK, score)
}
