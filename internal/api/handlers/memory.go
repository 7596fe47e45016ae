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

type MemoryHandler struct {
	svc       *service.MemoryTierService
	conflicts domain.ConflictStore
}

func NewMemoryHandler(svc *service.MemoryTierService, conflicts domain.ConflictStore) *MemoryHandler {
	return &MemoryHandler{svc: svc, conflicts: conflicts}
}

type putEntryRequest struct {
	ParticipantID string         `json:"participant_id"`
	Key           string         `json:"key"`
	Value         map[string]any `json:"value"`
	Importance    float64        `json:"importance"`
	Priority      string         `json:"priority,omitempty"` // critical, high, normal
	Tier          string         `json:"tier,omitempty"`     // working, cache, shared
}

func (h *MemoryHandler) Put(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req putEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant_id")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if req.Importance < 0 || req.Importance > 1 {
		writeError(w, http.StatusBadRequest, "invalid importance (0-1)")
		return
	}

	tier := domain.TierWorking
	if req.Tier != "" {
		if !domain.ValidTier(req.Tier) {
			writeError(w, http.StatusBadRequest, "invalid tier (working, cache, shared)")
			return
		}
		tier = domain.MemoryTier(req.Tier)
	}

	priority := domain.SyncNormal
	if req.Priority != "" {
		if !domain.ValidSyncPriority(req.Priority) {
			writeError(w, http.StatusBadRequest, "invalid priority (critical, high, normal)")
			return
		}
		priority = domain.SyncPriority(req.Priority)
	}

	entry := domain.MemoryEntry{
		Key:           req.Key,
		Value:         req.Value,
		ParticipantID: participantID,
		Importance:    req.Importance,
		WritePriority: priority,
	}

	if err := h.svc.Put(r.Context(), participantID, entry, tier); err != nil {
		if errors.Is(err, service.ErrBadTier) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to write memory entry")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	key := chi.URLParam(r, "key")

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

	tier := domain.TierWorking
	if t := r.URL.Query().Get("tier"); t != "" {
		if !domain.ValidTier(t) {
			writeError(w, http.StatusBadRequest, "invalid tier (working, cache, shared)")
			return
		}
		tier = domain.MemoryTier(t)
	}

	entry, err := h.svc.Get(r.Context(), participantID, key, tier)
	if err != nil {
		if errors.Is(err, service.ErrMemoryMiss) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read memory entry")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type syncRequest struct {
	ParticipantID string `json:"participant_id"`
	Priority      string `json:"priority"` // critical, high, normal
}

func (h *MemoryHandler) Sync(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant_id")
		return
	}
	if !domain.ValidSyncPriority(req.Priority) {
		writeError(w, http.StatusBadRequest, "invalid priority (critical, high, normal)")
		return
	}

	result := h.svc.Sync(r.Context(), participantID, domain.SyncPriority(req.Priority))
	writeJSON(w, http.StatusOK, result)
}

type createSnapshotRequest struct {
	Participants []string `json:"participants"`
	Topic        string   `json:"topic,omitempty"`
}

func (h *MemoryHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Participants) == 0 {
		writeError(w, http.StatusBadRequest, "participants is required")
		return
	}

	participants := make([]uuid.UUID, 0, len(req.Participants))
	for _, raw := range req.Participants {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid participant id")
			return
		}
		participants = append(participants, id)
	}

	snapshotID, err := h.svc.Snapshot(r.Context(), tenant.ID, participants, req.Topic)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to capture snapshot")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"snapshot_id": snapshotID.String()})
}

func (h *MemoryHandler) ReadSnapshot(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snapshotID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}
	key := chi.URLParam(r, "key")

	entry, err := h.svc.ReadSnapshot(r.Context(), snapshotID, key)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSnapshotMissing):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrMemoryMiss):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to read snapshot")
		}
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *MemoryHandler) ReleaseSnapshot(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snapshotID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}

	if err := h.svc.Release(r.Context(), snapshotID); err != nil {
		if errors.Is(err, service.ErrSnapshotMissing) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to release snapshot")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *MemoryHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conflicts, err := h.conflicts.ListUnresolved(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}
