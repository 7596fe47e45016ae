package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arbiterhq/arbiter/internal/api/middleware"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type PatternHandler struct {
	svc   *service.PatternGateService
	store domain.PatternStore
}

func NewPatternHandler(svc *service.PatternGateService, patternStore domain.PatternStore) *PatternHandler {
	return &PatternHandler{svc: svc, store: patternStore}
}

type createPatternRequest struct {
	Description      string   `json:"description"`
	ValidConditions  []string `json:"valid_conditions,omitempty"`
	EvidenceClaimIDs []string `json:"evidence_claim_ids,omitempty"`
}

func (h *PatternHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createPatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	p := &domain.Pattern{
		TenantID:        tenant.ID,
		Description:     req.Description,
		ValidConditions: req.ValidConditions,
	}
	for _, raw := range req.EvidenceClaimIDs {
		claimID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid evidence claim id")
			return
		}
		p.EvidenceClaimIDs = append(p.EvidenceClaimIDs, claimID)
	}

	if err := h.svc.SubmitCandidate(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create pattern")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (h *PatternHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}

	p, err := h.store.GetByID(r.Context(), id, tenant.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pattern not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get pattern")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

type recordOccurrenceRequest struct {
	Predicted  float64 `json:"predicted"`
	Observed   float64 `json:"observed"`
	OccurredAt string  `json:"occurred_at,omitempty"` // RFC3339 format
}

func (h *PatternHandler) RecordOccurrence(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}

	var req recordOccurrenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o := &domain.PatternOccurrence{
		PatternID: id,
		Predicted: req.Predicted,
		Observed:  req.Observed,
	}
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid occurred_at format (use RFC3339)")
			return
		}
		o.OccurredAt = t
	}

	if err := h.svc.RecordOccurrence(r.Context(), o); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record occurrence")
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

func (h *PatternHandler) Advance(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}

	status, err := h.svc.Advance(r.Context(), id, tenant.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPatternNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrPatternNotAdvanceable):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrInsufficientOccurrences):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to advance pattern")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

type reviewPatternRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Verdict    string `json:"verdict"` // approve, reject, modify, request_more_evidence
}

func (h *PatternHandler) Review(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}

	var req reviewPatternRequest
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

	status, err := h.svc.HumanReview(r.Context(), id, tenant.ID, domain.ReviewVerdict(req.Verdict), reviewerID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPatternNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrPatternNotReviewable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to review pattern")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

type liveOutcomeRequest struct {
	Accuracy float64 `json:"accuracy"`
}

func (h *PatternHandler) RecordLiveOutcome(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}

	var req liveOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Accuracy < 0 || req.Accuracy > 1 {
		writeError(w, http.StatusBadRequest, "invalid accuracy (0-1)")
		return
	}

	if err := h.svc.RecordLiveOutcome(r.Context(), id, tenant.ID, req.Accuracy); err != nil {
		if errors.Is(err, service.ErrPatternNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record outcome")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *PatternHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}

	if _, err := h.store.GetByID(r.Context(), id, tenant.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pattern not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get pattern")
		return
	}

	transitions, err := h.store.GetTransitions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get transitions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transitions": transitions,
		"count":       len(transitions),
	})
}

func (h *PatternHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(domain.PatternActive)
	}

	patterns, err := h.store.ListByStatus(r.Context(), domain.PatternStatus(status))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list patterns")
		return
	}

	// ListByStatus is cross-tenant for the background sweepers; filter here.
	filtered := patterns[:0]
	for _, p := range patterns {
		if p.TenantID == tenant.ID {
			filtered = append(filtered, p)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": filtered,
		"count":    len(filtered),
	})
}
