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

type ChallengeHandler struct {
	svc   *service.DebateService
	store domain.ChallengeStore
}

func NewChallengeHandler(svc *service.DebateService, store domain.ChallengeStore) *ChallengeHandler {
	return &ChallengeHandler{svc: svc, store: store}
}

type openChallengeRequest struct {
	ClaimID          string   `json:"claim_id"`
	ChallengerID     string   `json:"challenger_id"`
	Basis            string   `json:"basis"`
	RequiredEvidence []string `json:"required_evidence,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	Impact           float64  `json:"impact"`
}

func (h *ChallengeHandler) Open(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req openChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claimID, err := uuid.Parse(req.ClaimID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid claim_id")
		return
	}
	challengerID, err := uuid.Parse(req.ChallengerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenger_id")
		return
	}
	if req.Basis == "" {
		writeError(w, http.StatusBadRequest, "basis is required")
		return
	}
	if req.Priority != "" && !domain.ValidChallengePriority(req.Priority) {
		writeError(w, http.StatusBadRequest, "invalid priority (critical, high, medium, low)")
		return
	}
	if req.Impact < 0 || req.Impact > 1 {
		writeError(w, http.StatusBadRequest, "invalid impact (0-1)")
		return
	}

	ch, err := h.svc.OpenChallenge(r.Context(), service.OpenChallengeInput{
		TenantID:         tenant.ID,
		ClaimID:          claimID,
		ChallengerID:     challengerID,
		Basis:            req.Basis,
		RequiredEvidence: req.RequiredEvidence,
		Priority:         domain.ChallengePriority(req.Priority),
		Impact:           req.Impact,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrClaimNotFound):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrNotAParty):
			writeError(w, http.StatusBadRequest, "challenger not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to open challenge")
		}
		return
	}

	writeJSON(w, http.StatusCreated, ch)
}

func (h *ChallengeHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}

	ch, err := h.store.GetByID(r.Context(), id, tenant.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "challenge not found")
		return
	}

	writeJSON(w, http.StatusOK, ch)
}

type listChallengesResponse struct {
	Challenges []domain.Challenge `json:"challenges"`
	Count      int                `json:"count"`
}

func (h *ChallengeHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	challenges, err := h.store.ListActive(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list challenges")
		return
	}

	writeJSON(w, http.StatusOK, listChallengesResponse{Challenges: challenges, Count: len(challenges)})
}

type respondRequest struct {
	ParticipantID string `json:"participant_id"`
	Position      string `json:"position"` // maintain, concede, revise
}

func (h *ChallengeHandler) Respond(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant_id")
		return
	}
	if !domain.ValidChallengePosition(req.Position) {
		writeError(w, http.StatusBadRequest, "invalid position (maintain, concede, revise)")
		return
	}

	err = h.svc.Respond(r.Context(), id, tenant.ID, participantID, domain.ChallengePosition(req.Position))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChallengeNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrChallengeTerminal):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrNotAParty):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to submit position")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ChallengeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}

	if err := h.svc.Cancel(r.Context(), id, tenant.ID); err != nil {
		switch {
		case errors.Is(err, service.ErrChallengeNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrChallengeTerminal):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to cancel challenge")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *ChallengeHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}

	res, err := h.svc.GetResolution(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrResolutionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get resolution")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type overrideRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Verdict    string `json:"verdict"`
	WinnerID   string `json:"winner_id,omitempty"`
	Note       string `json:"note,omitempty"`
}

func (h *ChallengeHandler) Override(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}

	var req overrideRequest
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

	res, err := h.svc.Override(r.Context(), id, tenant.ID, decision)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChallengeNotFound), errors.Is(err, service.ErrResolutionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrResolutionNotPending):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to override resolution")
		}
		return
	}

	writeJSON(w, http.StatusCreated, res)
}
