package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/api/middleware"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ClaimHandler struct {
	svc *service.ClaimService
}

func NewClaimHandler(svc *service.ClaimService) *ClaimHandler {
	return &ClaimHandler{svc: svc}
}

type claimRequest struct {
	AuthorID   string               `json:"author_id"`
	Assertion  string               `json:"assertion"`
	Confidence float64              `json:"confidence"`
	Evidence   []domain.EvidenceRef `json:"evidence,omitempty"`
	Sector     string               `json:"sector,omitempty"`
	Metric     string               `json:"metric,omitempty"`
	Regime     string               `json:"regime,omitempty"`
}

func (req claimRequest) toInput(tenantID uuid.UUID) (service.SubmitClaimInput, error) {
	in := service.SubmitClaimInput{
		TenantID:   tenantID,
		Assertion:  req.Assertion,
		Confidence: req.Confidence,
		Evidence:   req.Evidence,
		Context: domain.ClaimContext{
			Sector: req.Sector,
			Metric: req.Metric,
			Regime: req.Regime,
		},
	}
	if req.AuthorID != "" {
		authorID, err := uuid.Parse(req.AuthorID)
		if err != nil {
			return in, errors.New("invalid author_id")
		}
		in.AuthorID = authorID
	}
	return in, nil
}

func (h *ClaimHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AuthorID == "" {
		writeError(w, http.StatusBadRequest, "author_id is required")
		return
	}

	in, err := req.toInput(tenant.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claim, err := h.svc.Submit(r.Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidClaim) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create claim")
		return
	}

	writeJSON(w, http.StatusCreated, claim)
}

func (h *ClaimHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}

	claim, err := h.svc.Get(r.Context(), id, tenant.ID)
	if err != nil {
		if errors.Is(err, service.ErrClaimNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get claim")
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

func (h *ClaimHandler) Revise(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in, err := req.toInput(tenant.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	revised, err := h.svc.Revise(r.Context(), id, tenant.ID, in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrClaimNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrClaimSuperseded):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrInvalidClaim):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to revise claim")
		}
		return
	}

	writeJSON(w, http.StatusCreated, revised)
}

type relatedClaimsResponse struct {
	Claims []domain.ClaimWithScore `json:"claims"`
	Count  int                     `json:"count"`
}

func (h *ClaimHandler) Related(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}

	related, err := h.svc.Related(r.Context(), id, tenant.ID)
	if err != nil {
		if errors.Is(err, service.ErrClaimNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to find related claims")
		return
	}

	writeJSON(w, http.StatusOK, relatedClaimsResponse{Claims: related, Count: len(related)})
}

func (h *ClaimHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}

	if err := h.svc.Delete(r.Context(), id, tenant.ID); err != nil {
		switch {
		case errors.Is(err, service.ErrClaimNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrClaimCited):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete claim")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
